package pagestore

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// MemoryStore keeps pages in memory. It is meant for tests and for runs
// that never outlive the process.
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string]map[int][]byte

	reads  atomic.Int64
	writes atomic.Int64
}

// NewMemoryStore creates an empty in-memory page store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]map[int][]byte),
	}
}

// ReadPage returns a stored page
func (ms *MemoryStore) ReadPage(pageSize int, addr Address) ([]byte, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ms.reads.Add(1)
	page, ok := ms.files[addr.File][addr.Page]
	if !ok {
		return nil, errors.Wrapf(ErrPageNotFound, "%s", addr)
	}
	if len(page) != pageSize {
		return nil, errors.Wrapf(ErrPageSize, "%s: stored %d bytes, want %d", addr, len(page), pageSize)
	}
	return page, nil
}

// WritePage stores a copy of page
func (ms *MemoryStore) WritePage(pageSize int, addr Address, page []byte) error {
	if err := checkPage(pageSize, addr, page); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	pages, ok := ms.files[addr.File]
	if !ok {
		pages = make(map[int][]byte)
		ms.files[addr.File] = pages
	}
	pages[addr.Page] = append([]byte(nil), page...)
	ms.writes.Add(1)
	return nil
}

// ReleaseAll forgets every page of file
func (ms *MemoryStore) ReleaseAll(file string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.files, file)
	return nil
}

// FileSize returns the summed size of all pages of file
func (ms *MemoryStore) FileSize(file string) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var size int64
	for _, page := range ms.files[file] {
		size += int64(len(page))
	}
	return size, nil
}

// Files returns the names of all files holding at least one page
func (ms *MemoryStore) Files() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	names := make([]string, 0, len(ms.files))
	for name := range ms.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PageCount returns the number of pages stored for file
func (ms *MemoryStore) PageCount(file string) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.files[file])
}

// Stats returns the number of page reads and writes served so far
func (ms *MemoryStore) Stats() (reads, writes int64) {
	return ms.reads.Load(), ms.writes.Load()
}
