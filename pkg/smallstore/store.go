// Package smallstore is the thin disk-cache engine spec.md describes as
// the consumer of pkg/page and pkg/waitgroup: it acquires a guard per
// pending write, applies the write to an in-memory page, waits on the
// group before a flush cycle seals and persists pages, and reloads each
// page after it lands on disk so the store can keep mutating it.
//
// Everything spec.md calls out as an external collaborator — the memory
// cache front end, admission/reinsertion policy, compression, metrics,
// configuration loading — stays out of this package's job: it is the
// narrowest possible glue that exercises the two leaf components
// end to end against a real file.
package smallstore

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/siltkv/smallset/pkg/codec"
	"github.com/siltkv/smallset/pkg/page"
	"github.com/siltkv/smallset/pkg/waitgroup"
)

// ErrClosed is returned by Store methods once Close has been called.
var ErrClosed = errors.New("smallstore: closed")

// DefaultPageSize matches the spec's typical device block size.
const DefaultPageSize = 4096

// DefaultNumSets is the number of fixed-size page slots the store
// allocates in its backing file by default.
const DefaultNumSets = 1024

// DefaultFlushInterval is how often the background loop seals and
// persists dirty pages when no caller has explicitly called Flush.
const DefaultFlushInterval = time.Second

// Options configures a Store. Loading these from a config file is the
// caller's responsibility — spec.md names configuration loading as an
// out-of-scope external collaborator.
type Options struct {
	// Path is the backing file. It is created if it does not exist.
	Path string
	// PageSize is the fixed page width in bytes. Must be >= page.HeaderSize.
	PageSize int
	// NumSets is the number of fixed-size page slots in the file.
	NumSets uint64
	// FlushInterval is the background flush cadence. Zero selects
	// DefaultFlushInterval. A negative value disables the background loop;
	// callers must then call Flush themselves.
	FlushInterval time.Duration
	// Logger receives structured diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
	// Admission decides whether a key is written at all. Defaults to
	// always-admit.
	Admission AdmissionPicker
	// Reinsertion decides whether an evicted entry should be reinserted
	// elsewhere. Defaults to never-reinsert. The store consults it only from
	// Delete, with the deleted key, and only logs a true result; entries
	// evicted from a page to make room for new writes are not reported to it.
	Reinsertion ReinsertionPicker
}

func (o *Options) setDefaults() {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.NumSets == 0 {
		o.NumSets = DefaultNumSets
	}
	if o.FlushInterval == 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.Admission == nil {
		o.Admission = alwaysAdmit{}
	}
	if o.Reinsertion == nil {
		o.Reinsertion = neverReinsert{}
	}
}

type setState struct {
	mu    sync.Mutex
	page  *page.Page
	dirty bool
}

// Store is a file-backed small-object cache: a fixed number of hash-
// bucketed pages, each a pkg/page.Page, flushed to disk as a batch under
// pkg/waitgroup coordination.
type Store struct {
	file     *os.File
	pageSize int
	numSets  uint64
	logger   *zap.SugaredLogger

	admission   AdmissionPicker
	reinsertion ReinsertionPicker

	mu         sync.RWMutex // guards flushGroup
	flushGroup *waitgroup.WaitGroup

	setsMu sync.Mutex
	sets   map[uint64]*setState

	stopCh chan struct{}
	loopWg sync.WaitGroup
	closed int32
}

func readHeader(buf []byte) (page.EntryHeader, error) {
	return codec.ReadHeader(buf)
}

// Open opens (creating if necessary) the store's backing file, sized to
// hold opts.NumSets pages of opts.PageSize bytes each, and starts its
// background flush loop.
func Open(opts Options) (*Store, error) {
	opts.setDefaults()
	if opts.Path == "" {
		return nil, errors.New("smallstore: path cannot be empty")
	}
	if opts.PageSize < page.HeaderSize {
		return nil, errors.New("smallstore: page size smaller than page header")
	}

	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	size := int64(opts.NumSets) * int64(opts.PageSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}

	s := &Store{
		file:        f,
		pageSize:    opts.PageSize,
		numSets:     opts.NumSets,
		logger:      opts.Logger,
		admission:   opts.Admission,
		reinsertion: opts.Reinsertion,
		flushGroup:  waitgroup.New(),
		sets:        make(map[uint64]*setState),
		stopCh:      make(chan struct{}),
	}

	if opts.FlushInterval > 0 {
		s.loopWg.Add(1)
		go s.flushLoop(opts.FlushInterval)
	}

	return s, nil
}

func (s *Store) isClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}

func (s *Store) setIDFor(hash uint64) uint64 {
	return hash % s.numSets
}

func (s *Store) offsetFor(setID uint64) int64 {
	return int64(setID) * int64(s.pageSize)
}

func (s *Store) getSet(setID uint64) *setState {
	s.setsMu.Lock()
	defer s.setsMu.Unlock()
	st, ok := s.sets[setID]
	if !ok {
		st = &setState{}
		s.sets[setID] = st
	}
	return st
}

// ensureLoaded reads a set's page from disk the first time it is touched.
// Must be called with st.mu held.
func (s *Store) ensureLoaded(st *setState, setID uint64) error {
	if st.page != nil {
		return nil
	}
	buf := make([]byte, s.pageSize)
	_, err := s.file.ReadAt(buf, s.offsetFor(setID))
	if err != nil && err != io.EOF {
		return err
	}
	p, err := page.Load(buf, codec.HeaderSize, readHeader)
	if err != nil {
		return err
	}
	st.page = p
	return nil
}

// acquireGuard acquires a guard against the store's current flush epoch,
// retrying against the new epoch if a concurrent Flush swapped it out
// from under us (see pkg/waitgroup's dip-rise note: harmless, since the
// old group can no longer accept acquisitions once its Wait has run).
func (s *Store) acquireGuard() *waitgroup.Guard {
	for {
		s.mu.RLock()
		wg := s.flushGroup
		s.mu.RUnlock()

		g, err := wg.Acquire()
		if err == nil {
			return g
		}
	}
}

// Put writes key/value into the store. The write is first applied to the
// in-memory page for key's set; it becomes durable at the next Flush
// (explicit or background).
func (s *Store) Put(key, value []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.admission.Admit(key) {
		return nil
	}

	hash := codec.HashKey(key)
	setID := s.setIDFor(hash)
	entry := codec.EncodeEntry(key, value)

	guard := s.acquireGuard()
	defer guard.Release()

	st := s.getSet(setID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.ensureLoaded(st, setID); err != nil {
		return err
	}
	st.page.Apply(nil, []page.Item{{Bytes: entry, Hash: hash}})
	st.dirty = true

	s.logger.Debugw("put", "setID", setID, "keyLen", len(key), "valueLen", len(value))
	return nil
}

// Get looks up key. It returns (nil, false, nil) on a clean miss.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if s.isClosed() {
		return nil, false, ErrClosed
	}

	hash := codec.HashKey(key)
	setID := s.setIDFor(hash)

	st := s.getSet(setID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.ensureLoaded(st, setID); err != nil {
		return nil, false, err
	}

	_, value, found, err := st.page.Get(hash)
	if err != nil {
		s.logger.Warnw("decode failure treated as miss", "setID", setID, "error", err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return cloneBytes(value), true, nil
}

// Delete removes key by applying a tombstone deletion to its set's page.
func (s *Store) Delete(key []byte) error {
	if s.isClosed() {
		return ErrClosed
	}

	hash := codec.HashKey(key)
	setID := s.setIDFor(hash)

	guard := s.acquireGuard()
	defer guard.Release()

	st := s.getSet(setID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.ensureLoaded(st, setID); err != nil {
		return err
	}
	st.page.Apply(map[uint64]struct{}{hash: {}}, nil)
	st.dirty = true
	if s.reinsertion.Reinsert(key) {
		s.logger.Debugw("reinsertion requested but not implemented by this store", "setID", setID)
	}
	return nil
}

// Flush retires the current flush epoch: it swaps in a fresh wait group,
// waits for every guard acquired against the retired one to release (so
// every write that had started before the swap has landed in its page),
// then seals and persists every dirty page and reloads it for further
// mutation.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	wg := s.flushGroup
	s.flushGroup = waitgroup.New()
	s.mu.Unlock()

	waiter := wg.Wait()
	if err := waiter.Wait(ctx); err != nil {
		return err
	}

	s.setsMu.Lock()
	dirtyIDs := make([]uint64, 0, len(s.sets))
	for id, st := range s.sets {
		st.mu.Lock()
		if st.dirty {
			dirtyIDs = append(dirtyIDs, id)
		}
		st.mu.Unlock()
	}
	s.setsMu.Unlock()

	for _, id := range dirtyIDs {
		if err := s.flushSet(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) flushSet(setID uint64) error {
	st := s.getSet(setID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.dirty || st.page == nil {
		return nil
	}

	st.page.Update()
	buf := st.page.Freeze()

	if _, err := s.file.WriteAt(buf, s.offsetFor(setID)); err != nil {
		return err
	}

	reloaded, err := page.Load(buf, codec.HeaderSize, readHeader)
	if err != nil {
		return err
	}
	st.page = reloaded
	st.dirty = false

	s.logger.Debugw("flushed set", "setID", setID, "len", reloaded.Len())
	return nil
}

// flushLoop periodically retires the current flush epoch so writers
// don't have to call Flush themselves for durability to make forward
// progress. It is best-effort: a failure is logged and retried on the
// next tick.
func (s *Store) flushLoop(interval time.Duration) {
	defer s.loopWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := s.Flush(ctx)
			cancel()
			if err != nil {
				s.logger.Errorw("background flush failed", "error", pkgerrors.Wrap(err, "flushLoop"))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the background flush loop, performs a final flush, and
// closes the backing file.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	close(s.stopCh)
	s.loopWg.Wait()

	if err := s.Flush(context.Background()); err != nil {
		s.file.Close()
		return pkgerrors.Wrap(err, "final flush")
	}
	return s.file.Close()
}
