package lsm

import (
	"bytes"

	"github.com/cockroachdb/errors"
)

// PrefixComparator orders key against a prefix: negative when key sorts
// before every key matching prefix, zero when key matches, positive after.
type PrefixComparator func(key, prefix []byte) int

// BytesPrefix matches keys that start with prefix
func BytesPrefix(key, prefix []byte) int {
	if bytes.HasPrefix(key, prefix) {
		return 0
	}
	return bytes.Compare(key, prefix)
}

// IterStats counts the work done by one iterator
type IterStats struct {
	DataPagesRead    int
	SummaryPagesRead int
	Seeks            int
	LevelsVisited    int // summary levels that had to read or decode fences
}

// levelState is the cached descent position in one summary level
type levelState struct {
	valid   bool
	cur     pageCursor
	lower   int    // child page of the last fence consumed (<= every target so far)
	pending *Fence // next fence after lower, nil when not yet decoded
}

// SIPIterator is a forward iterator over a run that can also skip ahead to
// the first entry >= a target key. Seeks with non-decreasing targets reuse
// the descent of earlier seeks: every summary page and every data page is
// read at most once over the iterator's lifetime.
//
// A SIPIterator is not safe for concurrent use; independent iterators over
// the same run are.
type SIPIterator struct {
	run    *Run
	cmp    PrefixComparator
	prefix []byte

	data       pageCursor
	dataLoaded bool
	lastKey    []byte

	cur        *Entry // positioned entry
	positioned bool   // cur not yet handed out by Next
	done       bool
	err        error

	levels []levelState
	stats  IterStats
}

// NewIter returns an iterator over the whole run
func (r *Run) NewIter() *SIPIterator {
	it := &SIPIterator{
		run:    r,
		data:   r.dataCursor(),
		levels: make([]levelState, len(r.summaries)),
	}
	for sl := range it.levels {
		it.levels[sl].cur = r.summaryCursor(sl)
	}
	if r.released.Load() {
		it.fail(ErrReleased)
	}
	return it
}

// PrefixSearch returns an iterator over the entries matching prefix under
// cmp, positioned on the first of them. It returns nil when the bloom filter
// rules the prefix out or no entry matches. Keys matching prefix must sort
// at or after prefix itself, and must start with it when the run's filter
// hashes prefixes.
func (r *Run) PrefixSearch(cmp PrefixComparator, prefix []byte) (*SIPIterator, error) {
	if r.released.Load() {
		return nil, ErrReleased
	}
	if !r.bloom.MayContainPrefix(prefix) {
		r.opts.Metrics.RecordPrefixMiss()
		return nil, nil
	}

	it := r.NewIter()
	it.cmp, it.prefix = cmp, prefix
	if _, ok := it.SeekGE(prefix); !ok {
		if it.err != nil {
			return nil, it.err
		}
		r.opts.Metrics.RecordPrefixMiss()
		return nil, nil
	}
	it.positioned = true
	return it, nil
}

// Err returns the error that stopped the iterator
func (it *SIPIterator) Err() error {
	return it.err
}

// Stats returns the work done so far
func (it *SIPIterator) Stats() IterStats {
	return it.stats
}

func (it *SIPIterator) fail(err error) {
	it.err = err
	it.done = true
	it.cur = nil
	it.run.log.Error("run iteration failed", errorFields(err)...)
}

// Next returns the entry after the current one
func (it *SIPIterator) Next() (*Entry, bool) {
	if it.done {
		return nil, false
	}
	if it.positioned {
		it.positioned = false
		return it.cur, true
	}

	if !it.dataLoaded {
		if err := it.loadData(0); err != nil {
			it.fail(err)
			return nil, false
		}
	}
	e, err := it.advance()
	if err != nil {
		it.fail(err)
		return nil, false
	}
	return it.emit(e)
}

// SeekGE moves to the first entry >= target and returns it. Seeking never
// moves backwards: when the current entry already satisfies target it is
// returned again.
func (it *SIPIterator) SeekGE(target []byte) (*Entry, bool) {
	if it.done {
		return nil, false
	}
	it.stats.Seeks++
	it.positioned = false

	if it.cur != nil && bytes.Compare(it.cur.Key, target) >= 0 {
		return it.emit(it.cur)
	}

	visited := it.stats.LevelsVisited
	e, err := it.seek(target)
	it.run.opts.Metrics.RecordSeek(it.stats.LevelsVisited - visited)
	if err != nil {
		it.fail(err)
		return nil, false
	}
	return it.emit(e)
}

// emit makes e current, ending the iteration at the end of the run or
// once e leaves the prefix
func (it *SIPIterator) emit(e *Entry) (*Entry, bool) {
	if e == nil || (it.cmp != nil && it.cmp(e.Key, it.prefix) != 0) {
		it.done = true
		it.cur = nil
		return nil, false
	}
	it.cur = e
	return e, true
}

func (it *SIPIterator) seek(target []byte) (*Entry, error) {
	if it.dataLoaded {
		// Rest of the current page, then the page right after it
		e, err := it.scanPage(target)
		if err != nil || e != nil || it.data.last {
			return e, err
		}
		if err := it.loadData(it.data.page + 1); err != nil {
			return nil, err
		}
		if e, err = it.scanPage(target); err != nil || e != nil || it.data.last {
			return e, err
		}
	}

	page := 0
	if len(it.levels) > 0 {
		p, err := it.locate(0, target)
		if err != nil {
			return nil, err
		}
		page = max(p, 0)
	}
	if it.dataLoaded {
		page = max(page, it.data.page+1)
	}

	for {
		if err := it.loadData(page); err != nil {
			return nil, err
		}
		e, err := it.scanPage(target)
		if err != nil || e != nil || it.data.last {
			return e, err
		}
		page++
	}
}

// locate returns the page of level sl-1 (the data file for sl == 0) whose
// first key is the greatest one <= target. Targets must not decrease between
// calls. A level answers from its pending fence without I/O when possible,
// otherwise it moves forward in its current page and only asks the level
// above once that page is used up.
func (it *SIPIterator) locate(sl int, target []byte) (int, error) {
	ls := &it.levels[sl]
	if ls.valid && ls.pending != nil && bytes.Compare(target, ls.pending.Key) < 0 {
		return ls.lower, nil
	}
	it.stats.LevelsVisited++
	top := sl == len(it.levels)-1

	for {
		if ls.valid {
			if ls.pending != nil {
				ls.lower = ls.pending.Page
				ls.pending = nil
			}
			found, err := it.scanLevel(ls, target)
			if err != nil || found || ls.cur.last {
				return ls.lower, err
			}
		}

		next := 0
		switch {
		case !top:
			p, err := it.locate(sl+1, target)
			if err != nil {
				return -1, err
			}
			next = p
		case ls.valid:
			next = ls.cur.page + 1
		}
		if ls.valid && next <= ls.cur.page {
			// target is below the first fence of the following page
			return ls.lower, nil
		}

		if err := ls.cur.load(next); err != nil {
			return -1, err
		}
		it.stats.SummaryPagesRead++
		switch {
		case next == 0:
			ls.lower = 0
		case !top:
			ls.lower = -1 // set by the page's first fence
		}
		ls.valid = true
	}
}

// scanLevel consumes the fences of the current summary page that are <= target.
// It reports whether a greater fence was found, which is then kept pending.
func (it *SIPIterator) scanLevel(ls *levelState, target []byte) (bool, error) {
	for !ls.cur.exhausted() {
		f, err := ls.cur.nextFence()
		if err != nil {
			return false, err
		}
		if bytes.Compare(f.Key, target) > 0 {
			if ls.lower < 0 {
				panic(errors.AssertionFailedf("%s page %d: first fence %q above seek key %q",
					ls.cur.file, ls.cur.page, f.Key, target))
			}
			ls.pending = &f
			return true, nil
		}
		ls.lower = f.Page
	}
	return false, nil
}

func (it *SIPIterator) loadData(page int) error {
	if err := it.data.load(page); err != nil {
		return err
	}
	it.dataLoaded = true
	it.stats.DataPagesRead++
	return nil
}

// scanPage returns the first entry >= target in the rest of the current
// data page, nil if there is none
func (it *SIPIterator) scanPage(target []byte) (*Entry, error) {
	for !it.data.exhausted() {
		e, err := it.decode()
		if err != nil {
			return nil, err
		}
		if bytes.Compare(e.Key, target) >= 0 {
			return e, nil
		}
	}
	return nil, nil
}

// advance returns the entry after the cursor, crossing into following pages,
// nil at the end of the run
func (it *SIPIterator) advance() (*Entry, error) {
	for it.data.exhausted() {
		if it.data.last {
			return nil, nil
		}
		if err := it.loadData(it.data.page + 1); err != nil {
			return nil, err
		}
	}
	return it.decode()
}

func (it *SIPIterator) decode() (*Entry, error) {
	e, err := it.data.nextEntry()
	if err != nil {
		return nil, err
	}
	if it.lastKey != nil && bytes.Compare(e.Key, it.lastKey) <= 0 {
		panic(errors.AssertionFailedf("%s page %d: key %q out of order after %q",
			it.data.file, it.data.page, e.Key, it.lastKey))
	}
	it.lastKey = e.Key
	return e, nil
}
