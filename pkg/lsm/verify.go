package lsm

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// VerifyReport is the outcome of Run.Verify
type VerifyReport struct {
	Run          string
	Entries      int
	Tombstones   int
	DataPages    int
	SummaryPages []int // page count per summary level
	UsedBytes    int64
	Problems     []string
}

// OK reports whether no problem was found
func (vr *VerifyReport) OK() bool {
	return len(vr.Problems) == 0
}

func (vr *VerifyReport) addf(format string, args ...any) {
	vr.Problems = append(vr.Problems, fmt.Sprintf(format, args...))
}

// Verify re-reads every page of the run and checks its structure: page
// headers, key order, fence consistency between adjacent levels, and that
// the first key of every data page is found through the summary. Problems
// are collected in the report; the error is reserved for storage failures.
func (r *Run) Verify() (*VerifyReport, error) {
	if r.released.Load() {
		return nil, ErrReleased
	}
	vr := &VerifyReport{Run: fmt.Sprintf("%d/%d", r.level, r.number)}

	// First key of every page of the level below, data pages first
	firstKeys, err := r.verifyData(vr)
	if err != nil {
		return vr, err
	}
	dataFirstKeys := firstKeys

	for sl := range r.summaries {
		if firstKeys, err = r.verifySummary(vr, sl, firstKeys); err != nil {
			return vr, err
		}
	}

	for page, key := range dataFirstKeys {
		if key == nil {
			continue
		}
		got, err := r.descend(key)
		if err != nil {
			return vr, err
		}
		if got != page {
			vr.addf("descent for first key %q of page %d lands on page %d", key, page, got)
		}
	}

	if !vr.OK() {
		r.log.Warn("run verification found problems", logging.Count(len(vr.Problems)))
	}
	return vr, nil
}

// walkPages loads pages 0.. of c until the last-page bit and calls fn on each
func (r *Run) walkPages(vr *VerifyReport, c *pageCursor, fn func() error) (int, error) {
	n := 0
	for ; ; n++ {
		if err := c.load(n); err != nil {
			if errors.Is(err, pagestore.ErrPageNotFound) {
				vr.addf("%s ends at page %d without a last page", c.file, n)
				return n, nil
			}
			if errors.Is(err, ErrCorruptPage) {
				vr.addf("%v", err)
				return n, nil
			}
			return n, err
		}
		vr.UsedBytes += int64(c.used)
		if err := fn(); err != nil {
			return n, err
		}
		if c.last {
			break
		}
	}

	n++
	if _, err := r.store.ReadPage(r.opts.PageSize, pagestore.Address{File: c.file, Page: n}); err == nil {
		vr.addf("%s has page %d after its last page", c.file, n)
	}
	return n, nil
}

func (r *Run) verifyData(vr *VerifyReport) ([][]byte, error) {
	c := r.dataCursor()
	var firstKeys [][]byte
	var prev []byte

	pages, err := r.walkPages(vr, &c, func() error {
		first := true
		for !c.exhausted() {
			e, err := c.nextEntry()
			if err != nil {
				vr.addf("%v", err)
				break
			}
			if prev != nil && bytes.Compare(e.Key, prev) <= 0 {
				vr.addf("%s page %d: key %q not above %q", c.file, c.page, e.Key, prev)
			}
			if first {
				firstKeys = append(firstKeys, e.Key)
				first = false
			}
			prev = e.Key
			vr.Entries++
			if e.Deleted {
				vr.Tombstones++
			}
		}
		if first {
			firstKeys = append(firstKeys, nil)
			if c.page > 0 {
				vr.addf("%s page %d is empty", c.file, c.page)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	vr.DataPages = pages
	if pages != r.dataPages {
		vr.addf("%d data pages on disk, %d recorded", pages, r.dataPages)
	}
	if vr.Entries != r.entryCount {
		vr.addf("%d entries on disk, %d recorded", vr.Entries, r.entryCount)
	}
	return firstKeys, nil
}

// verifySummary checks that level sl has exactly one fence (firstKey, page)
// for every child page but the first, and returns its own page first keys
func (r *Run) verifySummary(vr *VerifyReport, sl int, childFirstKeys [][]byte) ([][]byte, error) {
	c := r.summaryCursor(sl)
	var firstKeys [][]byte
	expect := 1

	pages, err := r.walkPages(vr, &c, func() error {
		first := true
		for !c.exhausted() {
			f, err := c.nextFence()
			if err != nil {
				vr.addf("%v", err)
				break
			}
			if first {
				firstKeys = append(firstKeys, f.Key)
				first = false
			}
			if f.Page != expect {
				vr.addf("%s page %d: fence points to page %d, want %d", c.file, c.page, f.Page, expect)
			} else if f.Page < len(childFirstKeys) && !bytes.Equal(f.Key, childFirstKeys[f.Page]) {
				vr.addf("%s page %d: fence key %q differs from first key %q of page %d",
					c.file, c.page, f.Key, childFirstKeys[f.Page], f.Page)
			}
			expect++
		}
		if first {
			vr.addf("%s page %d is empty", c.file, c.page)
			firstKeys = append(firstKeys, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	vr.SummaryPages = append(vr.SummaryPages, pages)
	if expect != len(childFirstKeys) {
		vr.addf("%s has %d fences for %d pages below", c.file, expect-1, len(childFirstKeys))
	}
	if pages != r.summaries[sl].pages {
		vr.addf("%s has %d pages, %d recorded", c.file, pages, r.summaries[sl].pages)
	}
	if sl == len(r.summaries)-1 && pages != 1 {
		vr.addf("top summary level %d spans %d pages", sl, pages)
	}
	return firstKeys, nil
}
