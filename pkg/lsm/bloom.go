package lsm

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// BloomFilter is a probabilistic data structure for set membership testing
// - False positives possible (may say key exists when it doesn't)
// - False negatives impossible (if it says key doesn't exist, it definitely doesn't)
//
// When prefixLength > 0 the filter also records the first prefixLength bytes
// of every key so that prefix searches can be rejected without I/O.
type BloomFilter struct {
	words        []uint64
	size         int // bits
	hashCount    int
	prefixLength int
}

// ErrIncompatibleFilters is returned by Merge for filters of different shape
var ErrIncompatibleFilters = errors.New("incompatible bloom filters")

const prefixSeed = 0x9E3779B97F4A7C15

// NewBloomFilter creates a Bloom filter optimized for the given parameters
// expectedItems: number of items to store
// falsePositiveRate: desired false positive rate (e.g., 0.01 for 1%)
// prefixLength: key prefix length tracked for MayContainPrefix, 0 disables it
func NewBloomFilter(expectedItems int, falsePositiveRate float64, prefixLength int) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01 // Default 1%
	}
	if prefixLength < 0 {
		prefixLength = 0
	}

	// Every key may contribute a prefix probe set as well
	items := expectedItems
	if prefixLength > 0 {
		items *= 2
	}

	// m = -(n * ln(p)) / (ln(2)^2)
	// k = (m/n) * ln(2)
	size := int(math.Ceil(-float64(items) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	hashCount := int(math.Ceil((float64(size) / float64(items)) * math.Ln2))

	// Cap at reasonable limits to prevent memory exhaustion
	const maxSize = 1 << 33 // 1 GiB of bits
	size = min(max(size, 64), maxSize)
	hashCount = min(max(hashCount, 1), 30)

	return &BloomFilter{
		words:        make([]uint64, (size+63)/64),
		size:         size,
		hashCount:    hashCount,
		prefixLength: prefixLength,
	}
}

// Add adds a key to the Bloom filter
func (bf *BloomFilter) Add(key []byte) {
	bf.set(keyHash(key))
	if bf.prefixLength > 0 && len(key) >= bf.prefixLength {
		bf.set(prefixHash(key[:bf.prefixLength]))
	}
}

// MayContain checks if a key might be in the set
// Returns true if key might exist (with false positive rate)
// Returns false if key definitely doesn't exist
func (bf *BloomFilter) MayContain(key []byte) bool {
	return bf.test(keyHash(key))
}

// MayContainPrefix reports whether some key starting with prefix may be in
// the set. Prefixes shorter than the tracked length always answer true.
func (bf *BloomFilter) MayContainPrefix(prefix []byte) bool {
	if bf.prefixLength == 0 || len(prefix) < bf.prefixLength {
		return true
	}
	return bf.test(prefixHash(prefix[:bf.prefixLength]))
}

func keyHash(key []byte) uint64 {
	return xxhash.Sum64(key)
}

func prefixHash(prefix []byte) uint64 {
	h := xxhash.Sum64(prefix) ^ prefixSeed
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

// set marks the bit positions of h using double hashing:
// bit(i) = (h1 + i * h2) % size
func (bf *BloomFilter) set(h uint64) {
	h1, h2 := h, (h>>32|h<<32)|1
	m := uint64(bf.size)
	for i := 0; i < bf.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % m
		bf.words[bit/64] |= 1 << (bit % 64)
	}
}

func (bf *BloomFilter) test(h uint64) bool {
	h1, h2 := h, (h>>32|h<<32)|1
	m := uint64(bf.size)
	for i := 0; i < bf.hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % m
		if bf.words[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Size returns the size of the filter in bits
func (bf *BloomFilter) Size() int {
	return bf.size
}

// HashCount returns the number of hash functions
func (bf *BloomFilter) HashCount() int {
	return bf.hashCount
}

// PrefixLength returns the tracked key prefix length (0 if disabled)
func (bf *BloomFilter) PrefixLength() int {
	return bf.prefixLength
}

// EstimateFalsePositiveRate estimates current false positive rate
func (bf *BloomFilter) EstimateFalsePositiveRate(itemCount int) float64 {
	// p = (1 - e^(-k*n/m))^k
	k := float64(bf.hashCount)
	n := float64(itemCount)
	m := float64(bf.size)

	return math.Pow(1.0-math.Exp(-k*n/m), k)
}

// Reset clears all bits in the filter
func (bf *BloomFilter) Reset() {
	clear(bf.words)
}

// Merge combines another Bloom filter into this one (OR operation)
// Both filters must have the same shape
func (bf *BloomFilter) Merge(other *BloomFilter) error {
	if bf.size != other.size || bf.hashCount != other.hashCount || bf.prefixLength != other.prefixLength {
		return ErrIncompatibleFilters
	}

	for i := range bf.words {
		bf.words[i] |= other.words[i]
	}

	return nil
}

// MarshalBinary serializes the Bloom filter as
// uvarint size | uvarint hashCount | uvarint prefixLength | words (LE)
func (bf *BloomFilter) MarshalBinary() []byte {
	data := make([]byte, 0, 3*binary.MaxVarintLen64+8*len(bf.words))
	data = binary.AppendUvarint(data, uint64(bf.size))
	data = binary.AppendUvarint(data, uint64(bf.hashCount))
	data = binary.AppendUvarint(data, uint64(bf.prefixLength))
	for _, w := range bf.words {
		data = binary.LittleEndian.AppendUint64(data, w)
	}
	return data
}

// UnmarshalBinary replaces the filter with the one encoded in data
func (bf *BloomFilter) UnmarshalBinary(data []byte) error {
	var fields [3]uint64
	pos := 0
	for i := range fields {
		v, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return errors.Wrap(ErrBadMetadata, "truncated bloom filter header")
		}
		fields[i] = v
		pos += n
	}

	size, hashCount, prefixLength := fields[0], fields[1], fields[2]
	if size == 0 || hashCount == 0 || hashCount > 30 || size > 1<<33 {
		return errors.Wrapf(ErrBadMetadata, "bloom filter shape size=%d hashes=%d", size, hashCount)
	}
	nwords := int((size + 63) / 64)
	if len(data)-pos != 8*nwords {
		return errors.Wrapf(ErrBadMetadata, "bloom filter has %d payload bytes, want %d", len(data)-pos, 8*nwords)
	}

	words := make([]uint64, nwords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(data[pos:])
		pos += 8
	}
	bf.words = words
	bf.size = int(size)
	bf.hashCount = int(hashCount)
	bf.prefixLength = int(prefixLength)
	return nil
}
