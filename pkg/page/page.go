// Package page implements the small-object on-disk set container: a
// fixed-size page that stores many small key/value entries, supports
// point lookup via an embedded bloom filter, compacting in-place updates
// and deletions, and crash recovery via a checksummed self-describing
// header.
//
// A page never performs I/O and never suspends; it operates purely on an
// in-memory buffer handed to it by the caller. It is single-writer: a
// Page is owned exclusively by whichever goroutine is mutating it.
package page

import (
	"encoding/binary"
	"hash/crc32"
	"time"
)

// HeaderSize is the fixed width of the page header:
//
//	| checksum (4B) | timestamp (8B) | len (4B) | bloom filter (32B) |
const HeaderSize = 48

const (
	offChecksum  = 0
	offTimestamp = 4
	offLen       = 12
	offBloom     = 16
)

// Page is the in-memory, mutable view of a fixed-size on-disk set. It
// owns the full buffer it was created or loaded from, including the
// capacity reserve beyond its current live data.
type Page struct {
	checksum    uint32
	timestamp   uint64
	len         int
	capacity    int
	bloomFilter BloomFilter

	headerSize int
	readHeader HeaderReader

	buf []byte
}

// Load takes ownership of buf (length must be at least HeaderSize) and
// parses it as a page. headerSize and readHeader describe the entry
// header format the page's entries use; pkg/codec.HeaderSize and
// pkg/codec.ReadHeader are the reference implementation.
//
// If the buffer is well-formed zero bytes, Load returns an empty page. If
// the stored length is out of bounds or the checksum does not match, the
// page is reset to empty (capacity retained) rather than returning an
// error: a corrupt page is a recoverable condition, not a failure one.
// Load only fails when buf itself is too small to hold a header, which is
// a programmer error.
func Load(buf []byte, headerSize int, readHeader HeaderReader) (*Page, error) {
	if len(buf) < HeaderSize {
		return nil, ErrPageUndersized
	}

	p := &Page{
		capacity:   len(buf) - HeaderSize,
		headerSize: headerSize,
		readHeader: readHeader,
		buf:        buf,
	}

	p.checksum = binary.BigEndian.Uint32(buf[offChecksum : offChecksum+4])
	p.timestamp = binary.BigEndian.Uint64(buf[offTimestamp : offTimestamp+8])
	p.len = int(binary.BigEndian.Uint32(buf[offLen : offLen+4]))
	p.bloomFilter.Read(buf[offBloom : offBloom+BloomFilterSize])

	if HeaderSize+p.len > len(buf) {
		p.Clear()
		return p, nil
	}

	sum := crc32.ChecksumIEEE(buf[4 : HeaderSize+p.len])
	if sum != p.checksum {
		p.Clear()
		return p, nil
	}

	return p, nil
}

// Len returns the number of live bytes in the page's entry region.
func (p *Page) Len() int { return p.len }

// IsEmpty reports whether the page currently holds no entries.
func (p *Page) IsEmpty() bool { return p.len == 0 }

// BloomFilter returns the page's bloom filter over its live entries'
// hashes.
func (p *Page) BloomFilter() *BloomFilter { return &p.bloomFilter }

// Clear resets the page to empty. Capacity is unaffected.
func (p *Page) Clear() {
	p.len = 0
	p.bloomFilter.Clear()
}

// data returns the page's entry region, [0, capacity).
func (p *Page) data() []byte {
	return p.buf[HeaderSize : HeaderSize+p.capacity]
}

// live returns the page's live entry bytes, [0, len).
func (p *Page) live() []byte {
	return p.buf[HeaderSize : HeaderSize+p.len]
}

func (p *Page) iter() *Iterator {
	return newIterator(p.data(), p.len, p.headerSize, p.readHeader)
}

func splitEntry(entry []byte, header EntryHeader, headerSize int) (value, key []byte, err error) {
	need := header.EntryLen()
	if len(entry) < need || need < headerSize {
		return nil, nil, ErrDecodeFailure
	}
	body := entry[headerSize:need]
	vlen := header.ValueLen()
	if vlen > len(body) {
		return nil, nil, ErrDecodeFailure
	}
	return body[:vlen], body[vlen:], nil
}

// Get performs a point lookup by hash. It consults the bloom filter first
// and returns (nil, nil, false, nil) on a negative without scanning. On a
// positive, it scans entries in stored order and returns the first whose
// hash matches — hash collisions within a page are assumed astronomically
// rare and are not resolved by comparing key bytes.
//
// A decode failure for a hash-matching entry is surfaced as an error
// distinct from "not found", so a caller can log it and treat the lookup
// as a miss.
func (p *Page) Get(hash uint64) (key, value []byte, found bool, err error) {
	if !p.bloomFilter.Lookup(hash) {
		return nil, nil, false, nil
	}

	it := p.iter()
	for it.Next() {
		e := it.Entry()
		if e.Hash == hash {
			return e.Key, e.Value, true, nil
		}
	}
	if it.Err() != nil {
		return nil, nil, false, ErrDecodeFailure
	}
	return nil, nil, false, nil
}

// Apply atomically (from the caller's perspective) removes every live
// entry whose hash is in deletions, then appends as many items as fit
// from the end of items toward the start, preserving their order —
// "newest wins on overflow". It never fails: an item whose serialized
// size exceeds the page's capacity is always dropped.
func (p *Page) Apply(deletions map[uint64]struct{}, items []Item) {
	p.deletes(deletions)
	p.append(items)
}

// deletes implements the delete pass: walk entries from offset 0, copy
// every survivor forward with a write cursor, and rebuild the bloom
// filter from the survivors observed along the way.
func (p *Page) deletes(deletions map[uint64]struct{}) {
	if len(deletions) == 0 {
		return
	}

	data := p.data()
	p.bloomFilter.Clear()

	rcursor, wcursor := 0, 0
	for rcursor < p.len {
		header, err := p.readHeader(data[rcursor:])
		if err != nil {
			// A corrupt entry header inside a previously-validated page
			// should not happen; treat the remainder as unrecoverable and
			// stop compacting past it rather than risk misreading length.
			break
		}
		entryLen := header.EntryLen()

		if _, deleted := deletions[header.Hash()]; !deleted {
			if rcursor != wcursor {
				copy(data[wcursor:wcursor+entryLen], data[rcursor:rcursor+entryLen])
			}
			p.bloomFilter.Insert(header.Hash())
			wcursor += entryLen
		}
		rcursor += entryLen
	}

	p.len = wcursor
}

// append implements the reserve and append passes: determine how many
// items (from the end of items backwards) fit within the page's total
// capacity budget, evict the oldest live entries if necessary to make
// room, then copy the surviving items into the tail of the entry region.
func (p *Page) append(items []Item) {
	budget := p.capacity
	skip, size := len(items), 0
	for i := len(items) - 1; i >= 0; i-- {
		// An item that would overflow the page's total capacity budget —
		// including one oversized relative to the whole page — stops
		// accumulation here; this item and every earlier one are dropped.
		if size+len(items[i].Bytes) > budget {
			break
		}
		size += len(items[i].Bytes)
		skip = i
	}

	p.reserve(size)

	cursor := p.len
	data := p.data()
	for _, item := range items[skip:] {
		n := copy(data[cursor:], item.Bytes)
		p.bloomFilter.Insert(item.Hash)
		cursor += n
	}
	p.len = cursor
}

// reserve ensures at least `required` free bytes exist in the entry
// region, evicting the oldest live entries (FIFO, from offset 0) if
// necessary. After an eviction the bloom filter is rebuilt from scratch
// from the surviving entries, since the filter does not support removal.
func (p *Page) reserve(required int) {
	free := p.capacity - p.len
	if free >= required {
		return
	}

	wipe := 0
	it := p.iter()
	for it.Next() {
		wipe += it.Entry().Len
		if free+wipe >= required {
			break
		}
	}

	data := p.data()
	copy(data[0:p.len-wipe], data[wipe:p.len])
	p.len -= wipe

	p.bloomFilter.Clear()
	it = p.iter()
	for it.Next() {
		p.bloomFilter.Insert(it.Entry().Hash)
	}
}

// Update recomputes the bloom filter bytes, len, timestamp, and checksum
// into the header region. It must be called after mutating a page and
// before Freeze. Update is idempotent over the same state.
func (p *Page) Update() {
	p.bloomFilter.Write(p.buf[offBloom : offBloom+BloomFilterSize])
	binary.BigEndian.PutUint32(p.buf[offLen:offLen+4], uint32(p.len))
	p.timestamp = uint64(time.Now().UnixMilli())
	binary.BigEndian.PutUint64(p.buf[offTimestamp:offTimestamp+8], p.timestamp)
	p.checksum = crc32.ChecksumIEEE(p.buf[4 : HeaderSize+p.len])
	binary.BigEndian.PutUint32(p.buf[offChecksum:offChecksum+4], p.checksum)
}

// Freeze consumes the page, yielding its full underlying buffer as an
// immutable byte sequence ready for I/O. The page must not be used after
// Freeze.
func (p *Page) Freeze() []byte {
	buf := p.buf
	p.buf = nil
	return buf
}
