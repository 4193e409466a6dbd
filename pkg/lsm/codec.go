package lsm

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Entry represents a key-value pair stored in a run
type Entry struct {
	Key     []byte
	Value   []byte
	Deleted bool // Tombstone for deletions
}

// Fence is one summary entry: the first key stored on Page of the level below
type Fence struct {
	Key  []byte
	Page int
}

// Codec encodes records and fences into page buffers.
//
// Encode methods return the offset after the written bytes and false when
// the value does not fit before the end of page; nothing is written then.
// Decode methods never read at or past limit.
type Codec interface {
	EncodeEntry(page []byte, off int, e *Entry) (int, bool)
	DecodeEntry(page []byte, off, limit int) (*Entry, int, error)
	// EncodeFence may compress f.Key against prev, the key of the fence
	// stored just before it on the same page (nil at a page start).
	EncodeFence(page []byte, off int, prev []byte, f Fence) (int, bool)
	DecodeFence(page []byte, off, limit int, prev []byte) (Fence, int, error)
}

const entryDeleted = 1 << 0

// DefaultCodec stores entries as
//
//	flags(1) | uvarint keyLen | key | uvarint valueLen | value
//
// with the value part omitted for tombstones, and fences as
//
//	uvarint shared | uvarint suffixLen | suffix | uvarint page
//
// where shared is the length of the prefix common with the previous fence.
type DefaultCodec struct{}

var _ Codec = DefaultCodec{}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// EncodeEntry implements Codec.
func (DefaultCodec) EncodeEntry(page []byte, off int, e *Entry) (int, bool) {
	need := 1 + uvarintLen(uint64(len(e.Key))) + len(e.Key)
	if !e.Deleted {
		need += uvarintLen(uint64(len(e.Value))) + len(e.Value)
	}
	if off+need > len(page) {
		return off, false
	}

	var flags byte
	if e.Deleted {
		flags |= entryDeleted
	}
	page[off] = flags
	off++
	off += binary.PutUvarint(page[off:], uint64(len(e.Key)))
	off += copy(page[off:], e.Key)
	if !e.Deleted {
		off += binary.PutUvarint(page[off:], uint64(len(e.Value)))
		off += copy(page[off:], e.Value)
	}
	return off, true
}

// DecodeEntry implements Codec.
func (DefaultCodec) DecodeEntry(page []byte, off, limit int) (*Entry, int, error) {
	if off >= limit || limit > len(page) {
		return nil, off, errors.Wrapf(ErrCorruptPage, "entry offset %d outside [0,%d)", off, limit)
	}
	flags := page[off]
	if flags&^entryDeleted != 0 {
		return nil, off, errors.Wrapf(ErrCorruptPage, "unknown entry flags %#x at offset %d", flags, off)
	}
	pos := off + 1

	key, pos, err := readBytes(page, pos, limit)
	if err != nil {
		return nil, off, err
	}
	e := &Entry{Key: key, Deleted: flags&entryDeleted != 0}
	if !e.Deleted {
		if e.Value, pos, err = readBytes(page, pos, limit); err != nil {
			return nil, off, err
		}
	}
	return e, pos, nil
}

// EncodeFence implements Codec.
func (DefaultCodec) EncodeFence(page []byte, off int, prev []byte, f Fence) (int, bool) {
	shared := commonPrefix(prev, f.Key)
	suffix := f.Key[shared:]
	need := uvarintLen(uint64(shared)) + uvarintLen(uint64(len(suffix))) + len(suffix) + uvarintLen(uint64(f.Page))
	if off+need > len(page) {
		return off, false
	}

	off += binary.PutUvarint(page[off:], uint64(shared))
	off += binary.PutUvarint(page[off:], uint64(len(suffix)))
	off += copy(page[off:], suffix)
	off += binary.PutUvarint(page[off:], uint64(f.Page))
	return off, true
}

// DecodeFence implements Codec.
func (DefaultCodec) DecodeFence(page []byte, off, limit int, prev []byte) (Fence, int, error) {
	if off >= limit || limit > len(page) {
		return Fence{}, off, errors.Wrapf(ErrCorruptPage, "fence offset %d outside [0,%d)", off, limit)
	}
	shared, pos, err := readUvarint(page, off, limit)
	if err != nil {
		return Fence{}, off, err
	}
	if shared > uint64(len(prev)) {
		return Fence{}, off, errors.Wrapf(ErrCorruptPage, "fence shares %d bytes with a %d byte key", shared, len(prev))
	}
	suffix, pos, err := readBytes(page, pos, limit)
	if err != nil {
		return Fence{}, off, err
	}
	pageNum, pos, err := readUvarint(page, pos, limit)
	if err != nil {
		return Fence{}, off, err
	}

	key := make([]byte, 0, int(shared)+len(suffix))
	key = append(key, prev[:shared]...)
	key = append(key, suffix...)
	return Fence{Key: key, Page: int(pageNum)}, pos, nil
}

func readUvarint(page []byte, pos, limit int) (uint64, int, error) {
	v, n := binary.Uvarint(page[pos:limit])
	if n <= 0 {
		return 0, pos, errors.Wrapf(ErrCorruptPage, "bad varint at offset %d", pos)
	}
	return v, pos + n, nil
}

// readBytes decodes a uvarint length followed by that many bytes and returns a copy
func readBytes(page []byte, pos, limit int) ([]byte, int, error) {
	n, pos, err := readUvarint(page, pos, limit)
	if err != nil {
		return nil, pos, err
	}
	if n > uint64(limit-pos) {
		return nil, pos, errors.Wrapf(ErrCorruptPage, "%d byte field overruns page at offset %d", n, pos)
	}
	b := make([]byte, n)
	copy(b, page[pos:pos+int(n)])
	return b, pos + int(n), nil
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// EntryCompare compares two entries by key
func EntryCompare(a, b *Entry) int {
	return bytes.Compare(a.Key, b.Key)
}
