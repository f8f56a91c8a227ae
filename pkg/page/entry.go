package page

// EntryHeader is the opaque fixed-size prefix an external serializer
// encodes in front of every entry's value and key bytes. The page only
// ever reads these four accessors; it never interprets the header's wire
// format itself. See pkg/codec for the reference implementation.
type EntryHeader interface {
	Hash() uint64
	KeyLen() int
	ValueLen() int
	EntryLen() int
}

// HeaderReader decodes an EntryHeader from the front of a byte slice. The
// page calls this once per entry it walks; pkg/codec.ReadHeader satisfies
// this signature.
type HeaderReader func(buf []byte) (EntryHeader, error)

// Item is a write intent: a pre-serialized entry (header, value, key) and
// the 64-bit hash of its key. Items enter a page through Apply only.
type Item struct {
	Bytes []byte
	Hash  uint64
}

// Entry is a decoded, page-resident (hash, key, value) triple returned by
// iteration. Key and Value alias the page's own buffer and must not be
// retained past the next mutation.
type Entry struct {
	// Offset is the entry's start within the page's data region (not
	// including the page header).
	Offset int
	// Len is the total byte length of the entry, header included.
	Len   int
	Hash  uint64
	Key   []byte
	Value []byte
}
