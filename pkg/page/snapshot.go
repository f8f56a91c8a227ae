package page

// Snapshot is a read-only view over a loaded page. Where Page is the
// single exclusive owner while a page is being mutated and sealed,
// Snapshot is what concurrent readers hold: a page reloaded fresh from a
// frozen buffer, exposing only the read side of the contract. This
// mirrors the original Set/SetMut split — a shared, read-only handle
// distinct from the exclusive mutable one — as a Go value rather than a
// borrow-checked reference.
type Snapshot struct {
	page *Page
}

// OpenSnapshot loads buf the same way Load does, but returns a read-only
// handle. A corrupt buffer still yields a usable (empty) snapshot, per
// the same recoverable-corruption rule Load follows.
func OpenSnapshot(buf []byte, headerSize int, readHeader HeaderReader) (*Snapshot, error) {
	p, err := Load(buf, headerSize, readHeader)
	if err != nil {
		return nil, err
	}
	return &Snapshot{page: p}, nil
}

// Get performs the same point lookup as Page.Get.
func (s *Snapshot) Get(hash uint64) (key, value []byte, found bool, err error) {
	return s.page.Get(hash)
}

// Len returns the number of live bytes in the snapshot.
func (s *Snapshot) Len() int { return s.page.Len() }

// IsEmpty reports whether the snapshot holds no entries.
func (s *Snapshot) IsEmpty() bool { return s.page.IsEmpty() }

// BloomFilter returns the snapshot's bloom filter.
func (s *Snapshot) BloomFilter() *BloomFilter { return s.page.BloomFilter() }

// Entries returns an iterator over the snapshot's live entries.
func (s *Snapshot) Entries() *Iterator { return s.page.iter() }
