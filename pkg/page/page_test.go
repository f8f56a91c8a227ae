package page_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/siltkv/smallset/pkg/codec"
	"github.com/siltkv/smallset/pkg/page"
)

const pageSize = 4096

func readHeader(buf []byte) (page.EntryHeader, error) {
	h, err := codec.ReadHeader(buf)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func newEmptyBuf() []byte {
	return make([]byte, pageSize)
}

func item(key, value []byte) page.Item {
	return page.Item{Bytes: codec.EncodeEntry(key, value), Hash: codec.HashKey(key)}
}

func mustLoad(t *testing.T, buf []byte) *page.Page {
	t.Helper()
	p, err := page.Load(buf, codec.HeaderSize, readHeader)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return p
}

func TestLoadEmptyBuffer(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())
	if !p.IsEmpty() {
		t.Fatalf("expected empty page")
	}
	_, _, found, err := p.Get(12345)
	if err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}
}

func TestLoadUndersizedBuffer(t *testing.T) {
	_, err := page.Load(make([]byte, 10), codec.HeaderSize, readHeader)
	if err != page.ErrPageUndersized {
		t.Fatalf("expected ErrPageUndersized, got %v", err)
	}
}

func TestSingleWrite(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())

	key := []byte{1}
	value := bytes.Repeat([]byte{'1'}, 42)
	it := item(key, value)

	p.Apply(nil, []page.Item{it})

	if p.Len() != len(it.Bytes) {
		t.Fatalf("len = %d, want %d", p.Len(), len(it.Bytes))
	}

	gotKey, gotValue, found, err := p.Get(it.Hash)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !bytes.Equal(gotKey, key) || !bytes.Equal(gotValue, value) {
		t.Fatalf("Get returned unexpected data")
	}
}

func TestOverwriteViaDeleteThenAppend(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())

	k1, v1 := []byte{1}, bytes.Repeat([]byte{'1'}, 42)
	it1 := item(k1, v1)
	p.Apply(nil, []page.Item{it1})

	k2, v2 := []byte{2}, bytes.Repeat([]byte{'2'}, 97)
	it2 := item(k2, v2)
	p.Apply(map[uint64]struct{}{it1.Hash: {}}, []page.Item{it2})

	if _, _, found, _ := p.Get(it1.Hash); found {
		t.Fatalf("expected deleted entry to be absent")
	}
	gotKey, gotValue, found, err := p.Get(it2.Hash)
	if err != nil || !found {
		t.Fatalf("Get(it2): found=%v err=%v", found, err)
	}
	if !bytes.Equal(gotKey, k2) || !bytes.Equal(gotValue, v2) {
		t.Fatalf("Get(it2) returned unexpected data")
	}
}

func TestOversizeItemDropped(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())

	key := []byte("big")
	value := bytes.Repeat([]byte{'x'}, 20*1024)
	it := item(key, value)

	p.Apply(nil, []page.Item{it})

	if p.Len() != 0 {
		t.Fatalf("len = %d, want 0 after dropping oversize item", p.Len())
	}
	if _, _, found, _ := p.Get(it.Hash); found {
		t.Fatalf("expected oversize item to be absent")
	}
}

func TestFIFOEvictionUnderPressure(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())

	e1 := item([]byte{1}, bytes.Repeat([]byte{'1'}, 42))
	p.Apply(map[uint64]struct{}{2: {}, 4: {}}, []page.Item{e1})

	e2 := item([]byte{2}, bytes.Repeat([]byte{'2'}, 97))
	p.Apply(map[uint64]struct{}{e1.Hash: {}, 3: {}, 5: {}}, []page.Item{e2})
	if p.Len() != len(e2.Bytes) {
		t.Fatalf("len = %d, want %d", p.Len(), len(e2.Bytes))
	}

	e3 := item([]byte{3}, bytes.Repeat([]byte{'3'}, 211))
	p.Apply(map[uint64]struct{}{e1.Hash: {}}, []page.Item{e3})
	if p.Len() != len(e2.Bytes)+len(e3.Bytes) {
		t.Fatalf("len = %d, want %d", p.Len(), len(e2.Bytes)+len(e3.Bytes))
	}

	// A big enough write to force FIFO eviction of e2 and e3.
	e4 := item([]byte{4}, bytes.Repeat([]byte{'4'}, 3900))
	p.Apply(map[uint64]struct{}{e1.Hash: {}}, []page.Item{e4})

	if p.Len() != len(e4.Bytes) {
		t.Fatalf("len = %d, want %d", p.Len(), len(e4.Bytes))
	}
	for _, h := range []uint64{e1.Hash, e2.Hash, e3.Hash} {
		if _, _, found, _ := p.Get(h); found {
			t.Fatalf("expected hash %d to be evicted", h)
		}
	}
	if _, _, found, _ := p.Get(e4.Hash); !found {
		t.Fatalf("expected e4 to survive")
	}
}

func TestUpdateFreezeLoadRoundTrip(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())

	e1 := item([]byte{1}, bytes.Repeat([]byte{'1'}, 10))
	e2 := item([]byte{2}, bytes.Repeat([]byte{'2'}, 20))
	p.Apply(nil, []page.Item{e1, e2})

	p.Update()
	frozen := p.Freeze()

	reloaded := mustLoad(t, frozen)

	k1, v1, found, err := reloaded.Get(e1.Hash)
	if err != nil || !found {
		t.Fatalf("Get(e1) after reload: found=%v err=%v", found, err)
	}
	if diff := cmp.Diff([]byte{1}, k1); diff != "" {
		t.Fatalf("key mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(v1, bytes.Repeat([]byte{'1'}, 10)) {
		t.Fatalf("value mismatch for e1")
	}

	k2, v2, found, err := reloaded.Get(e2.Hash)
	if err != nil || !found {
		t.Fatalf("Get(e2) after reload: found=%v err=%v", found, err)
	}
	if !bytes.Equal(k2, []byte{2}) || !bytes.Equal(v2, bytes.Repeat([]byte{'2'}, 20)) {
		t.Fatalf("e2 mismatch after reload")
	}
}

func TestCorruptChecksumResetsToEmpty(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())
	p.Apply(nil, []page.Item{item([]byte{7}, []byte("value"))})
	p.Update()
	frozen := p.Freeze()

	corrupted := make([]byte, len(frozen))
	copy(corrupted, frozen)
	corrupted[20] ^= 0xFF // inside [4, 48+len)

	reloaded := mustLoad(t, corrupted)
	if !reloaded.IsEmpty() {
		t.Fatalf("expected corrupted page to reset to empty")
	}
}

func TestClearResetsLenAndBloom(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())
	it := item([]byte{9}, []byte("v"))
	p.Apply(nil, []page.Item{it})
	if p.IsEmpty() {
		t.Fatalf("expected non-empty page before Clear")
	}

	p.Clear()
	if !p.IsEmpty() {
		t.Fatalf("expected empty page after Clear")
	}
	if p.BloomFilter().Lookup(it.Hash) {
		t.Fatalf("expected bloom filter cleared")
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	// Update is idempotent over (len, entries, bloom filter), not over the
	// advisory timestamp it also stamps in — two calls straddling a
	// millisecond boundary legitimately produce different timestamp bytes,
	// so compare decoded state rather than the raw frozen buffers.
	p := mustLoad(t, newEmptyBuf())
	it := item([]byte{1}, []byte("v"))
	p.Apply(nil, []page.Item{it})
	p.Update()
	first := append([]byte(nil), p.Freeze()...)

	p2 := mustLoad(t, append([]byte(nil), first...))
	p2.Update()
	second := p2.Freeze()

	reloadedFirst := mustLoad(t, first)
	reloadedSecond := mustLoad(t, second)

	if reloadedFirst.Len() != reloadedSecond.Len() {
		t.Fatalf("Len differs after repeated Update: %d vs %d", reloadedFirst.Len(), reloadedSecond.Len())
	}
	k1, v1, found1, err1 := reloadedFirst.Get(it.Hash)
	k2, v2, found2, err2 := reloadedSecond.Get(it.Hash)
	if err1 != nil || err2 != nil || !found1 || !found2 {
		t.Fatalf("Get after repeated Update: found1=%v err1=%v found2=%v err2=%v", found1, err1, found2, err2)
	}
	if !bytes.Equal(k1, k2) || !bytes.Equal(v1, v2) {
		t.Fatalf("decoded entry differs after repeated Update")
	}
	if reloadedFirst.BloomFilter().Lookup(it.Hash) != reloadedSecond.BloomFilter().Lookup(it.Hash) {
		t.Fatalf("bloom filter lookup differs after repeated Update")
	}
}

func TestDeleteOfAbsentHashIsNoop(t *testing.T) {
	p := mustLoad(t, newEmptyBuf())
	it := item([]byte{1}, []byte("v"))
	p.Apply(nil, []page.Item{it})

	p.Apply(map[uint64]struct{}{999: {}}, nil)

	if _, _, found, _ := p.Get(it.Hash); !found {
		t.Fatalf("expected entry to survive a no-op delete")
	}
}
