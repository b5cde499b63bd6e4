// Package content fetches photo bytes on demand and serves reads from
// per-handle buffers.
package content

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/models"
)

// Fetcher downloads whole photos from the remote.
type Fetcher interface {
	FetchContent(ctx context.Context, photoID string, min models.Quality) ([]byte, error)
}

// Config configures a Manager.
type Config struct {
	// Cache is shared by all handles. Nil or cache.Disabled makes every
	// handle fetch independently.
	Cache  cache.Store
	Logger *zap.Logger
	// FetchTimeout bounds a single fetch. Zero leaves it to the remote client.
	FetchTimeout time.Duration
}

// Stats counts manager activity.
type Stats struct {
	Fetches       atomic.Int64
	FetchFailures atomic.Int64
	BytesFetched  atomic.Int64
	CacheHits     atomic.Int64
	CacheMisses   atomic.Int64
	OpenHandles   atomic.Int64
}

// Manager owns the handle table.
//
// A handle starts Created. Its first Read moves it to Fetching and starts a
// single fetch that concurrent readers wait on. Success makes it Ready; a
// failure returns it to Created so a later Read can try again. Release makes
// it Released.
type Manager struct {
	fetcher Fetcher
	store   cache.Store
	shared  bool
	timeout time.Duration
	log     *zap.Logger
	group   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handles map[HandleID]*Handle
	nextID  atomic.Uint64

	// sizes remembers the real length of fetched content.
	sizes sync.Map

	Stats Stats
}

// NewManager creates a manager. Close must be called to abandon in-flight
// fetches and free buffers.
func NewManager(f Fetcher, cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Disabled{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		fetcher: f,
		store:   cfg.Cache,
		shared:  !cache.IsDisabled(cfg.Cache),
		timeout: cfg.FetchTimeout,
		log:     cfg.Logger,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[HandleID]*Handle),
	}
}

// Open creates a handle for a photo. No I/O happens until the first Read.
func (m *Manager) Open(photoID string, q models.Quality) (HandleID, error) {
	h := &Handle{
		id:  HandleID(m.nextID.Add(1)),
		key: cache.Key{PhotoID: photoID, Quality: q},
	}

	// Close cancels before swapping the table, so checking under the lock
	// keeps late opens out of the fresh table.
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return 0, models.ErrHandleClosed
	}
	m.handles[h.id] = h
	m.Stats.OpenHandles.Add(1)
	return h.id, nil
}

// Handle returns an open handle.
func (m *Manager) Handle(id HandleID) (*Handle, error) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrHandleClosed, id)
	}
	return h, nil
}

// Read returns up to n bytes at off. It blocks until the handle's content is
// fully buffered. Reads at or past the end return no bytes.
func (m *Manager) Read(ctx context.Context, id HandleID, off int64, n int) ([]byte, error) {
	h, err := m.Handle(id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	switch h.state {
	case StateReleased:
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", models.ErrHandleClosed, id)
	case StateReady:
		data := slice(h.buf, off, n)
		h.mu.Unlock()
		return data, nil
	case StateCreated:
		h.call = &fetchCall{done: make(chan struct{})}
		h.state = StateFetching
		go m.fetch(h, h.call)
	}
	call := h.call
	h.mu.Unlock()

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.ctx.Done():
		return nil, fmt.Errorf("%w: unmounting", models.ErrHandleClosed)
	}

	if call.err != nil {
		if errors.Is(call.err, models.ErrHandleClosed) {
			return nil, call.err
		}
		if errors.Is(call.err, models.ErrAuthRequired) || errors.Is(call.err, models.ErrRemoteFetchFailed) {
			return nil, call.err
		}
		return nil, fmt.Errorf("%w: %w", models.ErrRemoteFetchFailed, call.err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateReleased {
		return nil, fmt.Errorf("%w: %d", models.ErrHandleClosed, id)
	}
	return slice(h.buf, off, n), nil
}

// fetch runs one attempt for h and publishes the result to its waiters.
func (m *Manager) fetch(h *Handle, call *fetchCall) {
	data, err := m.load(h.key)

	h.mu.Lock()
	switch {
	case h.state == StateReleased:
		// released while fetching; drop the result
	case err != nil:
		h.state = StateCreated
		h.call = nil
	default:
		h.buf = data
		h.state = StateReady
	}
	h.mu.Unlock()

	call.err = err
	close(call.done)
}

// load returns content from the shared cache or the remote. Concurrent
// loads of one key share a single remote request when a cache is present.
func (m *Manager) load(key cache.Key) ([]byte, error) {
	if !m.shared {
		return m.fetchRemote(key)
	}
	if data, ok := m.store.Get(key); ok {
		m.Stats.CacheHits.Add(1)
		return data, nil
	}
	m.Stats.CacheMisses.Add(1)

	v, err, _ := m.group.Do(key.String(), func() (any, error) {
		data, err := m.fetchRemote(key)
		if err != nil {
			return nil, err
		}
		if !m.store.Put(key, data) {
			m.log.Debug("content not admitted to cache", zap.Stringer("key", key))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (m *Manager) fetchRemote(key cache.Key) ([]byte, error) {
	ctx := m.ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	start := time.Now()
	m.Stats.Fetches.Add(1)
	data, err := m.fetcher.FetchContent(ctx, key.PhotoID, key.Quality)
	if err != nil {
		m.Stats.FetchFailures.Add(1)
		if m.ctx.Err() != nil {
			return nil, fmt.Errorf("%w: fetch abandoned", models.ErrHandleClosed)
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %s: timed out after %s", models.ErrRemoteFetchFailed, key, m.timeout)
		}
		m.log.Warn("fetch failed", zap.Stringer("key", key), zap.Error(err))
		return nil, err
	}

	m.Stats.BytesFetched.Add(int64(len(data)))
	m.sizes.Store(key, int64(len(data)))
	m.log.Debug("fetched content",
		zap.Stringer("key", key),
		zap.String("size", humanize.Bytes(uint64(len(data)))),
		zap.Duration("took", time.Since(start)))
	return data, nil
}

// KnownSize returns the real content length of a photo rendition fetched
// earlier in this session.
func (m *Manager) KnownSize(key cache.Key) (int64, bool) {
	v, ok := m.sizes.Load(key)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// Forget drops the cached content and remembered size of a photo rendition.
func (m *Manager) Forget(key cache.Key) {
	m.store.Evict(key)
	m.sizes.Delete(key)
}

// Peek returns content for key from the shared cache without fetching.
func (m *Manager) Peek(key cache.Key) ([]byte, bool) {
	if !m.shared {
		return nil, false
	}
	return m.store.Get(key)
}

// Cached reports whether the shared cache currently holds key.
func (m *Manager) Cached(key cache.Key) bool {
	_, ok := m.Peek(key)
	return ok
}

// Release destroys a handle and frees its buffer.
func (m *Manager) Release(id HandleID) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	delete(m.handles, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrHandleClosed, id)
	}

	h.mu.Lock()
	h.state = StateReleased
	h.buf = nil
	h.mu.Unlock()

	m.Stats.OpenHandles.Add(-1)
	return nil
}

// OpenCount returns the number of handles in the table.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

// Close abandons in-flight fetches and releases every handle. Waiting
// readers return ErrHandleClosed.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[HandleID]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		h.state = StateReleased
		h.buf = nil
		h.mu.Unlock()
	}
	m.Stats.OpenHandles.Add(-int64(len(handles)))
	if len(handles) > 0 {
		m.log.Info("released open handles", zap.Int("count", len(handles)))
	}
}
