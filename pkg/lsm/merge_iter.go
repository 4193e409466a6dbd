package lsm

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// MergeIterator merges multiple sorted iterators into one. Sources are
// ordered newest first: for equal keys the entry of the earliest source wins
// and the older ones are skipped.
type MergeIterator struct {
	sources         []*peekIterator
	elideTombstones bool
	err             error
}

type peekIterator struct {
	it   Iterator
	head *Entry
	ok   bool
}

func (p *peekIterator) advance() {
	p.head, p.ok = p.it.Next()
}

// NewMergeIterator creates an iterator that merges sources, newest first.
// With elideTombstones set, deletions are dropped from the output, which is
// only correct when nothing older than the sources remains.
func NewMergeIterator(sources []Iterator, elideTombstones bool) *MergeIterator {
	mi := &MergeIterator{
		sources:         make([]*peekIterator, 0, len(sources)),
		elideTombstones: elideTombstones,
	}
	for _, it := range sources {
		p := &peekIterator{it: it}
		p.advance()
		mi.sources = append(mi.sources, p)
	}
	return mi
}

// Next returns the next entry in sorted order across all iterators
func (mi *MergeIterator) Next() (*Entry, bool) {
	for mi.err == nil {
		var minEntry *Entry
		minIdx := -1

		// Find minimum key across all iterators; ties go to the newest
		for i, src := range mi.sources {
			if !src.ok {
				if err := src.it.Err(); err != nil {
					mi.err = errors.Wrap(err, "merge source")
					return nil, false
				}
				continue
			}
			if minEntry == nil || EntryCompare(src.head, minEntry) < 0 {
				minEntry = src.head
				minIdx = i
			}
		}

		if minIdx == -1 {
			return nil, false
		}

		// Skip shadowed versions of the key in older sources
		for _, src := range mi.sources {
			for src.ok && bytes.Equal(src.head.Key, minEntry.Key) {
				src.advance()
			}
		}

		if mi.elideTombstones && minEntry.Deleted {
			continue
		}
		return minEntry, true
	}
	return nil, false
}

// Err returns the error reported by a source, if any
func (mi *MergeIterator) Err() error {
	return mi.err
}

// MergeRuns writes the merged contents of runs (newest first) as a new run
// (level, number). The inputs are left untouched; releasing them is up to
// the caller.
func MergeRuns(store pagestore.Store, opts Options, level, number int, runs []*Run, elideTombstones bool) (*Run, error) {
	sources := make([]Iterator, 0, len(runs))
	hint := 0
	for _, r := range runs {
		if r.released.Load() {
			return nil, errors.Wrapf(ErrReleased, "merge input %d/%d", r.level, r.number)
		}
		sources = append(sources, r.NewIter())
		hint += r.entryCount
	}
	return BuildRun(store, opts, level, number, NewMergeIterator(sources, elideTombstones), hint)
}
