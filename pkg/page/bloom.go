package page

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// BloomFilterSize is the on-disk width of the bloom filter: four 64-bit
// words.
const BloomFilterSize = 32

// BloomFilter is a 256-bit membership structure over 64-bit hashes. It
// never produces false negatives, and does not support removal — a page
// that evicts entries must rebuild its filter from the survivors rather
// than try to subtract from this one.
type BloomFilter struct {
	words [4]uint64
}

// bitIndex returns the (word, bit) position for the i-th of the filter's
// four independent hash mixes over h.
func bitIndex(h uint64, i int) (word int, bit uint) {
	var salt [9]byte
	binary.BigEndian.PutUint64(salt[:8], h)
	salt[8] = byte(i)
	mixed := xxhash.Sum64(salt[:])
	return int(mixed % 4), uint(mixed/4) % 64
}

// Insert marks h as a member of the filter.
func (bf *BloomFilter) Insert(h uint64) {
	for i := 0; i < 4; i++ {
		word, bit := bitIndex(h, i)
		bf.words[word] |= 1 << bit
	}
}

// Lookup reports whether h might be a member of the filter. A false result
// is definitive; a true result may be a false positive.
func (bf *BloomFilter) Lookup(h uint64) bool {
	for i := 0; i < 4; i++ {
		word, bit := bitIndex(h, i)
		if bf.words[word]&(1<<bit) == 0 {
			return false
		}
	}
	return true
}

// Clear resets the filter to empty.
func (bf *BloomFilter) Clear() {
	bf.words = [4]uint64{}
}

// Read parses a filter from its 32-byte on-disk representation.
func (bf *BloomFilter) Read(buf []byte) {
	_ = buf[BloomFilterSize-1]
	for i := 0; i < 4; i++ {
		bf.words[i] = binary.BigEndian.Uint64(buf[i*8 : i*8+8])
	}
}

// Write serializes the filter into its 32-byte on-disk representation.
func (bf *BloomFilter) Write(buf []byte) {
	_ = buf[BloomFilterSize-1]
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], bf.words[i])
	}
}
