package lsm

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// Metadata layout (all integers uvarint unless noted):
//
//	"RUNM" | version(1 byte) | pageSize | level | number |
//	summaryLevels | pages of each summary level | entryCount | dataPages |
//	bloomLen | snappy(bloom) | crc32 IEEE of everything before (4 bytes LE)
const (
	metadataMagic   = "RUNM"
	metadataVersion = 1
)

// WriteMetadata persists what is needed to reopen the run: the summary level
// count and the bloom filter, plus page counts for accounting.
func (r *Run) WriteMetadata(w io.Writer) error {
	if r.released.Load() {
		return ErrReleased
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, metadataMagic...)
	buf = append(buf, metadataVersion)
	buf = binary.AppendUvarint(buf, uint64(r.opts.PageSize))
	buf = binary.AppendUvarint(buf, uint64(r.level))
	buf = binary.AppendUvarint(buf, uint64(r.number))
	buf = binary.AppendUvarint(buf, uint64(len(r.summaries)))
	for _, s := range r.summaries {
		buf = binary.AppendUvarint(buf, uint64(s.pages))
	}
	buf = binary.AppendUvarint(buf, uint64(r.entryCount))
	buf = binary.AppendUvarint(buf, uint64(r.dataPages))

	blob := snappy.Encode(nil, r.bloom.MarshalBinary())
	buf = binary.AppendUvarint(buf, uint64(len(blob)))
	buf = append(buf, blob...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	if _, err := w.Write(buf); err != nil {
		return errors.Wrapf(err, "writing metadata of run %d/%d", r.level, r.number)
	}
	return nil
}

type metadataReader struct {
	buf []byte
	pos int
	err error
}

func (m *metadataReader) uvarint(what string) int {
	if m.err != nil {
		return 0
	}
	v, n := binary.Uvarint(m.buf[m.pos:])
	if n <= 0 || v > 1<<40 {
		m.err = errors.Wrapf(ErrBadMetadata, "bad %s at offset %d", what, m.pos)
		return 0
	}
	m.pos += n
	return int(v)
}

// OpenRun reopens run (level, number) from metadata written by
// WriteMetadata. The page size is taken from the metadata.
func OpenRun(store pagestore.Store, opts Options, level, number int, rd io.Reader) (*Run, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, errors.Wrap(err, "reading run metadata")
	}
	if len(data) < len(metadataMagic)+1+4 || !bytes.Equal(data[:len(metadataMagic)], []byte(metadataMagic)) {
		return nil, errors.Wrap(ErrBadMetadata, "missing magic")
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, errors.Wrap(ErrBadMetadata, "checksum mismatch")
	}
	if v := body[len(metadataMagic)]; v != metadataVersion {
		return nil, errors.Wrapf(ErrBadMetadata, "unsupported version %d", v)
	}

	m := &metadataReader{buf: body, pos: len(metadataMagic) + 1}
	opts.PageSize = m.uvarint("page size")
	gotLevel, gotNumber := m.uvarint("level"), m.uvarint("number")
	levels := m.uvarint("summary level count")
	if m.err == nil && levels > 64 {
		m.err = errors.Wrapf(ErrBadMetadata, "%d summary levels", levels)
	}
	pages := make([]int, 0, levels)
	for i := 0; i < levels && m.err == nil; i++ {
		pages = append(pages, m.uvarint("summary page count"))
	}
	entryCount := m.uvarint("entry count")
	dataPages := m.uvarint("data page count")
	blobLen := m.uvarint("bloom length")
	if m.err != nil {
		return nil, m.err
	}
	if gotLevel != level || gotNumber != number {
		return nil, errors.Wrapf(ErrBadMetadata, "metadata describes run %d/%d, not %d/%d", gotLevel, gotNumber, level, number)
	}
	if blobLen != len(body)-m.pos {
		return nil, errors.Wrapf(ErrBadMetadata, "bloom blob is %d bytes, %d remain", blobLen, len(body)-m.pos)
	}

	raw, err := snappy.Decode(nil, body[m.pos:])
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decompressing bloom filter"), ErrBadMetadata)
	}

	if opts, err = opts.withDefaults(); err != nil {
		return nil, errors.Mark(err, ErrBadMetadata)
	}
	r := newRun(store, opts, level, number)
	r.bloom = &BloomFilter{}
	if err := r.bloom.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	r.entryCount, r.dataPages = entryCount, dataPages
	for sl, n := range pages {
		r.summaries = append(r.summaries, &summaryLevel{
			level: sl,
			file:  SummaryFileName(level, number, sl),
			pages: n,
		})
	}

	r.log.Debug("run opened", logging.Count(entryCount), logging.Int("summary_levels", levels))
	opts.Metrics.RecordOpen()
	return r, nil
}
