// Package pagestore persists and caches fixed-size pages addressed by
// (file, page number). It is the block layer underneath sorted runs.
package pagestore

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrPageNotFound is returned when a page was never written.
	ErrPageNotFound = errors.New("pagestore: page not found")
	// ErrPageSize is returned when a page buffer does not match the requested page size.
	ErrPageSize = errors.New("pagestore: page size mismatch")
	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("pagestore: store is closed")
)

// Address identifies one page of one logical file.
type Address struct {
	File string
	Page int
}

func (a Address) String() string {
	return fmt.Sprintf("%s#%d", a.File, a.Page)
}

// Store is the page cache/persistence collaborator used by runs.
//
// Pages returned by ReadPage are shared with the store's cache and must be
// treated as read-only. Implementations must be safe for concurrent reads.
type Store interface {
	// ReadPage returns the page at addr, exactly pageSize bytes long.
	ReadPage(pageSize int, addr Address) ([]byte, error)
	// WritePage stores page at addr, replacing any previous content.
	WritePage(pageSize int, addr Address, page []byte) error
	// ReleaseAll drops every cached page of file and deletes its backing storage.
	ReleaseAll(file string) error
	// FileSize returns the raw number of bytes file occupies, 0 if absent.
	FileSize(file string) (int64, error)
}

func checkPage(pageSize int, addr Address, page []byte) error {
	if len(page) != pageSize {
		return errors.Wrapf(ErrPageSize, "%s: got %d bytes, want %d", addr, len(page), pageSize)
	}
	if addr.Page < 0 {
		return errors.Newf("pagestore: negative page number in %s", addr)
	}
	return nil
}
