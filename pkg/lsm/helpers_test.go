package lsm

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// key32 encodes n as a 4 byte big endian key so byte order matches numeric order
func key32(n uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, n)
}

// sortedEntries builds entries for the given ascending keys with value = key
func sortedEntries(keys ...uint32) []*Entry {
	entries := make([]*Entry, len(keys))
	for i, k := range keys {
		entries[i] = &Entry{Key: key32(k), Value: key32(k)}
	}
	return entries
}

// buildTestRun writes entries into store as run 0/1
func buildTestRun(t testing.TB, store pagestore.Store, opts Options, entries []*Entry) *Run {
	t.Helper()
	r, err := BuildRun(store, opts, 0, 1, NewSliceIterator(entries), len(entries))
	if err != nil {
		t.Fatalf("BuildRun failed: %v", err)
	}
	return r
}

// smallPages returns options whose tiny pages force deep summaries
func smallPages(pageSize int) Options {
	opts := DefaultOptions()
	opts.PageSize = pageSize
	return opts
}

// recordingStore counts page reads and can inject read failures
type recordingStore struct {
	pagestore.Store

	mu     sync.Mutex
	reads  map[pagestore.Address]int
	failOn func(addr pagestore.Address) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		Store: pagestore.NewMemoryStore(),
		reads: make(map[pagestore.Address]int),
	}
}

func (s *recordingStore) ReadPage(pageSize int, addr pagestore.Address) ([]byte, error) {
	s.mu.Lock()
	s.reads[addr]++
	fail := s.failOn
	s.mu.Unlock()

	if fail != nil {
		if err := fail(addr); err != nil {
			return nil, err
		}
	}
	return s.Store.ReadPage(pageSize, addr)
}

func (s *recordingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads = make(map[pagestore.Address]int)
}

// readsOf returns how often pages of file were read, and the maximum number
// of reads of any single page
func (s *recordingStore) readsOf(file string) (total, maxPerPage int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, n := range s.reads {
		if addr.File != file {
			continue
		}
		total += n
		maxPerPage = max(maxPerPage, n)
	}
	return total, maxPerPage
}
