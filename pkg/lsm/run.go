package lsm

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// Run is an immutable sorted sequence of entries stored in fixed-size pages,
// indexed by a multi-level summary and gated by a bloom filter.
//
// A run is written once by BuildRun (or reopened with OpenRun) and may then
// be read by any number of goroutines. Readers never mutate run state.
type Run struct {
	level  int
	number int
	store  pagestore.Store
	opts   Options
	log    logging.Logger

	bloom      *BloomFilter
	summaries  []*summaryLevel // index = summary level
	entryCount int
	dataPages  int

	released atomic.Bool
}

func newRun(store pagestore.Store, opts Options, level, number int) *Run {
	return &Run{
		level:  level,
		number: number,
		store:  store,
		opts:   opts,
		log:    opts.Logger.With(logging.Component("lsm"), logging.Run(level, number)),
	}
}

// Level returns the LSM level of the run
func (r *Run) Level() int { return r.level }

// Number returns the run number within its level
func (r *Run) Number() int { return r.number }

// EntryCount returns the number of entries stored
func (r *Run) EntryCount() int { return r.entryCount }

// DataPages returns the number of data pages
func (r *Run) DataPages() int { return r.dataPages }

// SummaryLevels returns 1 + the highest summary level, 0 without a summary
func (r *Run) SummaryLevels() int { return len(r.summaries) }

// SummaryPages returns the page count of summary level sl
func (r *Run) SummaryPages(sl int) int {
	if sl < 0 || sl >= len(r.summaries) {
		return 0
	}
	return r.summaries[sl].pages
}

// PageSize returns the page size the run was written with
func (r *Run) PageSize() int { return r.opts.PageSize }

// Bloom returns the run's bloom filter
func (r *Run) Bloom() *BloomFilter { return r.bloom }

// Files returns the logical names of the data file followed by every
// summary level file
func (r *Run) Files() []string {
	files := []string{RunFileName(r.level, r.number)}
	for _, s := range r.summaries {
		files = append(files, s.file)
	}
	return files
}

func (r *Run) String() string {
	return fmt.Sprintf("run %d/%d (%d entries, %d pages, %d summary levels)",
		r.level, r.number, r.entryCount, r.dataPages, len(r.summaries))
}

// Get returns the entry stored for key, tombstones included. The boolean is
// false when the run holds no such key; storage and decode failures are
// returned as errors, never as a miss.
func (r *Run) Get(key []byte) (*Entry, bool, error) {
	if r.released.Load() {
		return nil, false, ErrReleased
	}
	if !r.bloom.MayContain(key) {
		r.opts.Metrics.RecordLookup(metrics.LookupBloomNegative)
		return nil, false, nil
	}

	e, err := r.get(key)
	if err != nil {
		r.log.Error("run lookup failed", errorFields(err)...)
		r.opts.Metrics.RecordLookup(metrics.LookupError)
		return nil, false, err
	}
	if e == nil {
		r.opts.Metrics.RecordLookup(metrics.LookupMiss)
		return nil, false, nil
	}
	r.opts.Metrics.RecordLookup(metrics.LookupHit)
	return e, true, nil
}

func (r *Run) get(key []byte) (*Entry, error) {
	page, err := r.descend(key)
	if err != nil {
		return nil, err
	}

	c := r.dataCursor()
	if err := c.load(page); err != nil {
		return nil, err
	}
	// Fences bound the page: a key absent here is absent from the run
	for !c.exhausted() {
		e, err := c.nextEntry()
		if err != nil {
			return nil, err
		}
		switch cmp := bytes.Compare(e.Key, key); {
		case cmp == 0:
			return e, nil
		case cmp > 0:
			return nil, nil
		}
	}
	return nil, nil
}

// Lookup returns the live value of key. Tombstones read as absent.
func (r *Run) Lookup(key []byte) ([]byte, bool, error) {
	e, ok, err := r.Get(key)
	if err != nil || !ok || e.Deleted {
		return nil, false, err
	}
	return e.Value, true, nil
}

// Scan returns the live entries with start <= key < end. A nil start reads
// from the beginning and a nil end to the end of the run.
func (r *Run) Scan(start, end []byte) ([]*Entry, error) {
	if r.released.Load() {
		return nil, ErrReleased
	}

	it := r.NewIter()
	var e *Entry
	var ok bool
	if start == nil {
		e, ok = it.Next()
	} else {
		e, ok = it.SeekGE(start)
	}

	var out []*Entry
	for ; ok; e, ok = it.Next() {
		if end != nil && bytes.Compare(e.Key, end) >= 0 {
			break
		}
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out, it.Err()
}

// Release deletes the data file and every summary file of the run
func (r *Run) Release() error {
	if !r.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	if err := r.releaseFiles(); err != nil {
		r.log.Error("run release failed", errorFields(err)...)
		return err
	}
	r.opts.Metrics.RecordRelease()
	r.log.Debug("run released")
	return nil
}

func (r *Run) releaseFiles() error {
	var errs error
	for _, file := range r.Files() {
		if err := r.store.ReleaseAll(file); err != nil {
			errs = errors.CombineErrors(errs, newRunError("release", file, -1, err))
		}
	}
	return errs
}

// BytesOnDisk returns the raw size of all files of the run
func (r *Run) BytesOnDisk() (int64, error) {
	var total int64
	for _, file := range r.Files() {
		n, err := r.store.FileSize(file)
		if err != nil {
			return 0, newRunError("stat", file, -1, err)
		}
		total += n
	}
	return total, nil
}

// UsedBytesOnDisk sums the bytes-used headers of every page of the run
func (r *Run) UsedBytesOnDisk() (int64, error) {
	if r.released.Load() {
		return 0, ErrReleased
	}

	cursors := []pageCursor{r.dataCursor()}
	for sl := range r.summaries {
		cursors = append(cursors, r.summaryCursor(sl))
	}

	var total int64
	for _, c := range cursors {
		for n := 0; ; n++ {
			if err := c.load(n); err != nil {
				return 0, err
			}
			total += int64(c.used)
			if c.last {
				break
			}
		}
	}
	return total, nil
}
