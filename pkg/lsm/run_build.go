package lsm

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// Build status labels
const (
	buildSuccess = "success"
	buildFailure = "failure"
)

// runWriter holds the state of one bulk ingestion
type runWriter struct {
	run     *Run
	file    string
	buf     []byte
	scratch []byte // trial fence encoding
	off     int
	page    int

	entries   int
	collapsed int
}

// BuildRun writes the sorted entries of src as run (level, number) and
// returns the finished run. Adjacent entries with equal keys collapse into
// the last one. bloomHint is an upper bound on the number of entries.
//
// The run's files must not exist yet: a previous run with the same (level,
// number) has to be released first, otherwise ErrRunExists is returned and
// nothing is touched. A source that is not sorted is a programming error and
// panics. On any other failure the pages written so far are released and
// the error is returned.
func BuildRun(store pagestore.Store, opts Options, level, number int, src Iterator, bloomHint int) (*Run, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := checkUnused(store, level, number); err != nil {
		return nil, err
	}

	r := newRun(store, opts, level, number)
	r.bloom = NewBloomFilter(bloomHint, opts.BloomFalsePositiveRate, opts.BloomPrefixLength)
	w := &runWriter{
		run:  r,
		file: RunFileName(level, number),
		buf:  make([]byte, opts.PageSize),
		off:  HeaderSize,
	}

	timer := logging.StartTimer(r.log, "run build")
	if err := w.build(src); err != nil {
		if rerr := r.releaseFiles(); rerr != nil {
			err = errors.CombineErrors(err, rerr)
		}
		timer.Fail(err)
		opts.Metrics.RecordBuild(buildFailure, w.entries, timer.Elapsed())
		return nil, err
	}

	r.entryCount = w.entries
	r.dataPages = w.page + 1
	timer.Done(
		logging.Count(w.entries),
		logging.Int("data_pages", r.dataPages),
		logging.Int("summary_levels", len(r.summaries)),
		logging.Int("collapsed", w.collapsed))
	opts.Metrics.RecordBuild(buildSuccess, w.entries, timer.Elapsed())
	return r, nil
}

// checkUnused fails when the data file or the first summary level of run
// (level, number) already holds pages. Higher summary levels only exist
// alongside the first one.
func checkUnused(store pagestore.Store, level, number int) error {
	for _, file := range []string{RunFileName(level, number), SummaryFileName(level, number, 0)} {
		n, err := store.FileSize(file)
		if err != nil {
			return newRunError("stat", file, -1, err)
		}
		if n > 0 {
			return errors.Wrapf(ErrRunExists, "%s holds %d bytes", file, n)
		}
	}
	return nil
}

func (w *runWriter) build(src Iterator) error {
	var held *Entry
	for e, ok := src.Next(); ok; e, ok = src.Next() {
		if held != nil {
			switch cmp := bytes.Compare(e.Key, held.Key); {
			case cmp < 0:
				panic(errors.AssertionFailedf("run %d/%d: input key %q after %q",
					w.run.level, w.run.number, e.Key, held.Key))
			case cmp == 0:
				held = e
				w.collapsed++
				continue
			}
			if err := w.add(held); err != nil {
				return err
			}
		}
		held = e
	}
	if err := src.Err(); err != nil {
		return errors.Wrap(err, "reading build source")
	}
	if held != nil {
		if err := w.add(held); err != nil {
			return err
		}
	}
	return w.finish()
}

// add appends e to the current page, opening a new page and recording its
// fence when e does not fit
func (w *runWriter) add(e *Entry) error {
	r := w.run
	r.bloom.Add(e.Key)

	off, ok := r.opts.Codec.EncodeEntry(w.buf, w.off, e)
	if !ok {
		if w.off == HeaderSize {
			return errors.Wrapf(ErrRecordTooLarge, "%d byte key, %d byte value", len(e.Key), len(e.Value))
		}
		// e becomes the first key of the next page, so its fence must fit
		// an empty summary page
		if !w.fenceFits(e.Key, w.page+1) {
			return errors.Wrapf(ErrRecordTooLarge, "%d byte key does not fit a summary page", len(e.Key))
		}
		if err := w.flush(false); err != nil {
			return err
		}
		w.page++
		if off, ok = r.opts.Codec.EncodeEntry(w.buf, w.off, e); !ok {
			return errors.Wrapf(ErrRecordTooLarge, "%d byte key, %d byte value", len(e.Key), len(e.Value))
		}
		if err := r.addFence(0, e.Key, w.page); err != nil {
			return err
		}
	}
	w.off = off
	w.entries++
	return nil
}

func (w *runWriter) fenceFits(key []byte, page int) bool {
	if w.scratch == nil {
		w.scratch = make([]byte, len(w.buf))
	}
	_, ok := w.run.opts.Codec.EncodeFence(w.scratch, HeaderSize, nil, Fence{Key: key, Page: page})
	return ok
}

func (w *runWriter) flush(last bool) error {
	r := w.run
	PutPageHeader(w.buf, w.off, last)
	if err := r.store.WritePage(r.opts.PageSize, pagestore.Address{File: w.file, Page: w.page}, w.buf); err != nil {
		return newRunError("write", w.file, w.page, err)
	}
	r.opts.Metrics.RecordPageWrite(metrics.PageKindData)
	clear(w.buf)
	w.off = HeaderSize
	return nil
}

func (w *runWriter) finish() error {
	if err := w.flush(true); err != nil {
		return err
	}
	return w.run.finishSummaries()
}
