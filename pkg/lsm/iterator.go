package lsm

import (
	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// Iterator yields entries in ascending key order
type Iterator interface {
	// Next returns the next entry, false once the sequence is exhausted
	// or an error occurred.
	Next() (*Entry, bool)
	// Err returns the error that stopped the iteration, if any
	Err() error
}

// SliceIterator iterates over an already sorted slice of entries
type SliceIterator struct {
	entries []*Entry
	index   int
}

// NewSliceIterator creates an iterator over entries
func NewSliceIterator(entries []*Entry) *SliceIterator {
	return &SliceIterator{entries: entries}
}

// Next advances the iterator
func (it *SliceIterator) Next() (*Entry, bool) {
	if it.index >= len(it.entries) {
		return nil, false
	}

	entry := it.entries[it.index]
	it.index++
	return entry, true
}

// Err always returns nil
func (it *SliceIterator) Err() error {
	return nil
}

// pageCursor walks the records of one page of a run file. Each cursor owns
// its buffer and offset; nothing in it is shared with other readers.
type pageCursor struct {
	run  *Run
	file string
	kind string // metrics.PageKindData or metrics.PageKindSummary

	page int
	buf  []byte
	used int
	last bool
	off  int
	prev []byte // delta state for fences, reset per page
}

func (r *Run) dataCursor() pageCursor {
	return pageCursor{run: r, file: RunFileName(r.level, r.number), kind: metrics.PageKindData, page: -1}
}

func (r *Run) summaryCursor(sl int) pageCursor {
	return pageCursor{run: r, file: SummaryFileName(r.level, r.number, sl), kind: metrics.PageKindSummary, page: -1}
}

// load reads page n and positions the cursor at its first record
func (c *pageCursor) load(n int) error {
	buf, err := c.run.store.ReadPage(c.run.opts.PageSize, pagestore.Address{File: c.file, Page: n})
	if err != nil {
		return newRunError("read", c.file, n, err)
	}
	c.run.opts.Metrics.RecordPageRead(c.kind)

	used, last := ReadPageHeader(buf)
	if used < HeaderSize || used > len(buf) {
		return newRunError("read", c.file, n, errors.Wrapf(ErrCorruptPage, "header claims %d used bytes", used))
	}
	c.page, c.buf, c.used, c.last = n, buf, used, last
	c.off, c.prev = HeaderSize, nil
	return nil
}

func (c *pageCursor) exhausted() bool {
	return c.off >= c.used
}

func (c *pageCursor) nextEntry() (*Entry, error) {
	e, off, err := c.run.opts.Codec.DecodeEntry(c.buf, c.off, c.used)
	if err != nil {
		return nil, newRunError("decode", c.file, c.page, err)
	}
	c.off = off
	return e, nil
}

func (c *pageCursor) nextFence() (Fence, error) {
	f, off, err := c.run.opts.Codec.DecodeFence(c.buf, c.off, c.used, c.prev)
	if err != nil {
		return Fence{}, newRunError("decode", c.file, c.page, err)
	}
	c.off, c.prev = off, f.Key
	return f, nil
}
