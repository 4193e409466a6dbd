package lsm

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// summaryLevel is one level of a run's sparse index. Level 0 holds a fence
// (first key, page) for every data page but the first; level s+1 holds one
// for every page of level s but the first. A level only gets a parent once it
// spills past its first page, so the top level is always a single page.
type summaryLevel struct {
	level int
	file  string
	pages int

	// Write state, dropped by finish
	buf  []byte
	off  int
	page int
	prev []byte
}

func (r *Run) newSummaryLevel(sl int) *summaryLevel {
	return &summaryLevel{
		level: sl,
		file:  SummaryFileName(r.level, r.number, sl),
		buf:   make([]byte, r.opts.PageSize),
		off:   HeaderSize,
	}
}

// addFence appends (key, page) to summary level sl, creating the level on
// first use. When the level's page overflows, the fence opens a new page and
// that page is announced to the level above.
func (r *Run) addFence(sl int, key []byte, page int) error {
	if sl == len(r.summaries) {
		r.summaries = append(r.summaries, r.newSummaryLevel(sl))
	}
	s := r.summaries[sl]
	f := Fence{Key: key, Page: page}

	off, ok := r.opts.Codec.EncodeFence(s.buf, s.off, s.prev, f)
	if ok {
		s.off = off
		s.prev = append(s.prev[:0], key...)
		return nil
	}
	if s.off == HeaderSize {
		return errors.Wrapf(ErrRecordTooLarge, "%d byte fence key in %s", len(key), s.file)
	}

	if err := r.flushSummary(s, false); err != nil {
		return err
	}
	s.page++
	s.prev = nil
	if off, ok = r.opts.Codec.EncodeFence(s.buf, s.off, nil, f); !ok {
		return errors.Wrapf(ErrRecordTooLarge, "%d byte fence key in %s", len(key), s.file)
	}
	s.off = off
	s.prev = append([]byte(nil), key...)

	return r.addFence(sl+1, key, s.page)
}

func (r *Run) flushSummary(s *summaryLevel, last bool) error {
	PutPageHeader(s.buf, s.off, last)
	if err := r.store.WritePage(r.opts.PageSize, pagestore.Address{File: s.file, Page: s.page}, s.buf); err != nil {
		return newRunError("write", s.file, s.page, err)
	}
	r.opts.Metrics.RecordPageWrite(metrics.PageKindSummary)
	clear(s.buf)
	s.off = HeaderSize
	return nil
}

// finishSummaries writes the open page of every level with the last-page bit
func (r *Run) finishSummaries() error {
	for _, s := range r.summaries {
		if err := r.flushSummary(s, true); err != nil {
			return err
		}
		s.pages = s.page + 1
		s.buf, s.prev = nil, nil
	}
	return nil
}

// pageNumber scans page from of summary level sl and returns the page of
// the level below whose first key is the greatest one <= key. It returns -1
// when the first fence examined is already greater than key and its page is
// the first one. The level above chose from, so key sorts below the first
// fence of page from+1 and the scan never leaves page from.
func (r *Run) pageNumber(key []byte, from, sl int) (int, error) {
	c := r.summaryCursor(sl)
	if err := c.load(from); err != nil {
		return -1, err
	}

	result := -1
	for !c.exhausted() {
		f, err := c.nextFence()
		if err != nil {
			return -1, err
		}
		switch cmp := bytes.Compare(f.Key, key); {
		case cmp > 0:
			if result < 0 && f.Page > 1 {
				return f.Page - 1, nil
			}
			return result, nil
		case cmp == 0:
			return f.Page, nil
		}
		result = f.Page
	}
	return result, nil
}

// descend walks the summary from its top level down and returns the data
// page that may hold key
func (r *Run) descend(key []byte) (int, error) {
	page := -1
	for sl := len(r.summaries) - 1; sl >= 0; sl-- {
		p, err := r.pageNumber(key, max(page, 0), sl)
		if err != nil {
			return 0, err
		}
		page = p
	}
	return max(page, 0), nil
}
