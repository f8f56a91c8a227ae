// Package codec is the reference entry serializer the small-object page
// consumes through its EntryHeader interface. The page itself never imports
// this package; it only requires something shaped like Header.
package codec

import (
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash/v2"
)

// HeaderSize is the fixed width of an encoded entry header: hash(8) +
// keyLen(4) + valueLen(4).
const HeaderSize = 16

// ErrShortHeader is returned when a buffer is too small to hold a header,
// and by DecodeEntry when a buffer is shorter than the entry its header
// describes.
var ErrShortHeader = errors.New("codec: buffer shorter than header size")

// Header is the fixed-size prefix of an entry: a 64-bit hash of the key,
// the encoded key length, and the encoded value length.
type Header struct {
	hash     uint64
	keyLen   uint32
	valueLen uint32
}

// NewHeader builds a header for a key/value pair whose hash has already
// been computed (see HashKey).
func NewHeader(hash uint64, keyLen, valueLen int) Header {
	return Header{hash: hash, keyLen: uint32(keyLen), valueLen: uint32(valueLen)}
}

// Hash returns the 64-bit hash carried by the header.
func (h Header) Hash() uint64 { return h.hash }

// KeyLen returns the encoded key length in bytes.
func (h Header) KeyLen() int { return int(h.keyLen) }

// ValueLen returns the encoded value length in bytes.
func (h Header) ValueLen() int { return int(h.valueLen) }

// EntryLen returns the total length of the entry the header describes,
// header included.
func (h Header) EntryLen() int {
	return HeaderSize + h.KeyLen() + h.ValueLen()
}

// Write encodes the header into buf[0:HeaderSize].
func (h Header) Write(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], h.hash)
	binary.BigEndian.PutUint32(buf[8:12], h.keyLen)
	binary.BigEndian.PutUint32(buf[12:16], h.valueLen)
}

// ReadHeader decodes a header from the front of buf.
func ReadHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		hash:     binary.BigEndian.Uint64(buf[0:8]),
		keyLen:   binary.BigEndian.Uint32(buf[8:12]),
		valueLen: binary.BigEndian.Uint32(buf[12:16]),
	}, nil
}

// HashKey derives the 64-bit hash the page and its bloom filter index
// entries by.
func HashKey(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// EncodeEntry serializes a complete entry as header, then value, then key —
// the wire order the small-object page's data model requires.
func EncodeEntry(key, value []byte) []byte {
	hash := HashKey(key)
	header := NewHeader(hash, len(key), len(value))
	buf := make([]byte, header.EntryLen())
	header.Write(buf)
	copy(buf[HeaderSize:], value)
	copy(buf[HeaderSize+len(value):], key)
	return buf
}

// DecodeEntry splits an already-located entry (header included) back into
// its value and key, per the header's lengths.
func DecodeEntry(buf []byte, header Header) (value, key []byte, err error) {
	need := header.EntryLen()
	if len(buf) < need {
		return nil, nil, ErrShortHeader
	}
	value = buf[HeaderSize : HeaderSize+header.ValueLen()]
	key = buf[HeaderSize+header.ValueLen() : need]
	return value, key, nil
}
