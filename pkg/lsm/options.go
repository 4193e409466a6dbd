package lsm

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/metrics"
)

// Options configures how runs are written and read
type Options struct {
	PageSize               int     // Bytes per page, header included
	Codec                  Codec   // Record and fence encoding
	BloomFalsePositiveRate float64 // Target bloom false positive rate
	BloomPrefixLength      int     // Key prefix tracked by the bloom filter, 0 disables
	Logger                 logging.Logger
	Metrics                *metrics.Registry // Optional
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		PageSize:               DefaultPageSize,
		Codec:                  DefaultCodec{},
		BloomFalsePositiveRate: 0.01,
		Logger:                 logging.NewNopLogger(),
	}
}

// withDefaults fills zero fields and validates the rest
func (o Options) withDefaults() (Options, error) {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize < MinPageSize || o.PageSize > MaxPageSize {
		return o, errors.Wrapf(ErrInvalidOptions, "page size %d outside [%d,%d]", o.PageSize, MinPageSize, MaxPageSize)
	}
	if o.Codec == nil {
		o.Codec = DefaultCodec{}
	}
	if o.BloomFalsePositiveRate <= 0 || o.BloomFalsePositiveRate >= 1 {
		o.BloomFalsePositiveRate = 0.01
	}
	if o.BloomPrefixLength < 0 {
		return o, errors.Wrapf(ErrInvalidOptions, "negative bloom prefix length %d", o.BloomPrefixLength)
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o, nil
}

// RunFileName returns the data file name of run (level, number)
func RunFileName(level, number int) string {
	return fmt.Sprintf("Run_%d_%d", level, number)
}

// SummaryFileName returns the file name of summary level sl of run (level, number)
func SummaryFileName(level, number, sl int) string {
	return fmt.Sprintf("Summary_%d_%d_%d", level, number, sl)
}

// MetadataFileName returns the conventional name of the run's metadata file
func MetadataFileName(level, number int) string {
	return fmt.Sprintf("Run_%d_%d.meta", level, number)
}
