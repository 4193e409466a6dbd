package lsm

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
)

// Common sentinel errors
var (
	ErrRecordTooLarge = errors.New("record does not fit in an empty page")
	ErrCorruptPage    = errors.New("corrupt page")
	ErrReleased       = errors.New("run has been released")
	ErrBadMetadata    = errors.New("invalid run metadata")
	ErrInvalidOptions = errors.New("invalid run options")
	ErrRunExists      = errors.New("run files already exist")
)

// RunError describes a failed page-level operation on one of a run's files.
// Storage failures surface as RunError so that callers can tell them apart
// from a key that is simply absent.
type RunError struct {
	Op    string // Operation that failed (e.g., "read", "decode", "write")
	File  string // Logical file name (Run_<l>_<n> or Summary_<l>_<n>_<s>)
	Page  int    // Page number, -1 if not page specific
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Page >= 0 {
		return fmt.Sprintf("%s %s page %d: %v", e.Op, e.File, e.Page, e.Cause)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *RunError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

func newRunError(op, file string, page int, cause error) error {
	return &RunError{Op: op, File: file, Page: page, Cause: cause}
}

// errorFields adds the file and page of a RunError anywhere in err's chain
func errorFields(err error) []logging.Field {
	fields := []logging.Field{logging.Error(err)}
	var re *RunError
	if errors.As(err, &re) {
		fields = append(fields, logging.File(re.File))
		if re.Page >= 0 {
			fields = append(fields, logging.Page(re.Page))
		}
	}
	return fields
}
