// Package vfs answers path-based filesystem requests from a snapshot of the
// remote photo library and serves photo content through open handles.
package vfs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/content"
	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/tree"
)

// Remote is what a session needs from the remote client.
type Remote interface {
	tree.Lister
	content.Fetcher
}

// Pinger is implemented by remotes that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
	IsOnline() bool
}

// Config holds session configuration.
type Config struct {
	Quality           models.Quality
	Collisions        tree.CollisionPolicy
	OnError           tree.FailurePolicy
	Cache             cache.Store
	FetchTimeout      time.Duration
	RefreshInterval   time.Duration
	HealthCheckPeriod time.Duration
	Logger            *zap.Logger
}

// Stats holds session statistics.
type Stats struct {
	Refreshes        atomic.Int64
	RefreshFailures  atomic.Int64
	LastRefreshNanos atomic.Int64
	Reads            atomic.Int64
	BytesRead        atomic.Int64
	Denied           atomic.Int64
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name string
	Dir  bool
}

// FS is one mount session. It owns the tree snapshot, the content cache and
// the handle table; Close tears all of them down. Sessions share nothing, so
// several can run in one process.
type FS struct {
	remote  Remote
	cfg     Config
	builder *tree.Builder
	content *content.Manager
	store   cache.Store
	log     *zap.Logger

	snap      atomic.Pointer[tree.Tree]
	refreshMu sync.Mutex

	loopMu sync.Mutex
	cancel []context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	Stats Stats
}

// New creates a session. No I/O happens until Build.
func New(remote Remote, cfg Config) *FS {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.Disabled{}
	}
	return &FS{
		remote: remote,
		cfg:    cfg,
		builder: tree.NewBuilder(remote, tree.BuilderConfig{
			Collisions: cfg.Collisions,
			OnError:    cfg.OnError,
			Logger:     cfg.Logger.Named("tree"),
		}),
		content: content.NewManager(remote, content.Config{
			Cache:        cfg.Cache,
			Logger:       cfg.Logger.Named("content"),
			FetchTimeout: cfg.FetchTimeout,
		}),
		store: cfg.Cache,
		log:   cfg.Logger,
	}
}

// Build loads the first snapshot. A session cannot serve requests until it
// succeeds.
func (f *FS) Build(ctx context.Context) error {
	if err := f.Refresh(ctx); err != nil {
		return fmt.Errorf("build tree: %w", err)
	}
	return nil
}

// Refresh rebuilds the snapshot and swaps it in. Readers see either the old
// or the new tree. On failure the old snapshot stays in place.
func (f *FS) Refresh(ctx context.Context) error {
	f.refreshMu.Lock()
	defer f.refreshMu.Unlock()

	start := time.Now()
	t, err := f.builder.Build(ctx)
	if err != nil {
		f.Stats.RefreshFailures.Add(1)
		if f.snap.Load() != nil {
			f.log.Warn("refresh failed, keeping previous tree", zap.Error(err))
		}
		return err
	}

	old := f.snap.Swap(t)
	f.Stats.Refreshes.Add(1)
	f.Stats.LastRefreshNanos.Store(int64(time.Since(start)))

	if old != nil {
		f.forgetRemoved(old, t)
	}
	if old != nil && old.Len() != t.Len() {
		f.log.Info("tree refreshed", zap.Int("before", old.Len()), zap.Int("after", t.Len()))
	} else if old != nil {
		f.log.Debug("tree refreshed", zap.Int("nodes", t.Len()))
	}
	return nil
}

// forgetRemoved drops cached content of photos that are gone from cur.
func (f *FS) forgetRemoved(old, cur *tree.Tree) {
	gone := make(map[string]struct{})
	_ = old.Walk(func(_ string, n *models.Node) error {
		if n.IsDir() {
			return nil
		}
		if _, ok := cur.Node(n.ID); !ok {
			gone[n.ID] = struct{}{}
		}
		return nil
	})
	for id := range gone {
		f.content.Forget(cache.Key{PhotoID: id, Quality: f.cfg.Quality})
	}
	if len(gone) > 0 {
		f.log.Debug("forgot removed photos", zap.Int("count", len(gone)))
	}
}

// Tree returns the current snapshot, or nil before Build.
func (f *FS) Tree() *tree.Tree {
	return f.snap.Load()
}

// Content exposes the handle table.
func (f *FS) Content() *content.Manager {
	return f.content
}

// CacheStats reports the shared content cache.
func (f *FS) CacheStats() cache.Stats {
	return f.store.Stats()
}

// Quality is the minimum quality requested for every open.
func (f *FS) Quality() models.Quality {
	return f.cfg.Quality
}

// IsOnline reports remote reachability when the remote can tell.
func (f *FS) IsOnline() bool {
	if p, ok := f.remote.(Pinger); ok {
		return p.IsOnline()
	}
	return true
}

func (f *FS) snapshot() (*tree.Tree, error) {
	t := f.snap.Load()
	if t == nil {
		return nil, fmt.Errorf("%w: tree not built", models.ErrRemoteUnavailable)
	}
	return t, nil
}

// Stat resolves path and synthesizes its attributes. A photo fetched earlier
// in the session reports its real size instead of the declared one.
func (f *FS) Stat(path string) (*models.Node, tree.Attrs, error) {
	t, err := f.snapshot()
	if err != nil {
		return nil, tree.Attrs{}, err
	}
	n, err := t.Resolve(path)
	if err != nil {
		return nil, tree.Attrs{}, err
	}
	a := t.Attributes(n)
	if !n.IsDir() {
		if size, ok := f.content.KnownSize(cache.Key{PhotoID: n.ID, Quality: f.cfg.Quality}); ok {
			a.Size = size
		}
	}
	return n, a, nil
}

// Getattr returns the attributes of path. It never fetches content.
func (f *FS) Getattr(path string) (tree.Attrs, error) {
	_, a, err := f.Stat(path)
	return a, err
}

// Readdir lists an album: ".", "..", then its children in remote order.
func (f *FS) Readdir(path string) ([]DirEntry, error) {
	t, err := f.snapshot()
	if err != nil {
		return nil, err
	}
	n, err := t.Resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := t.Entries(n.ID)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries)+2)
	out = append(out, DirEntry{Name: ".", Dir: true}, DirEntry{Name: "..", Dir: true})
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name, Dir: e.Node.IsDir()})
	}
	return out, nil
}

const writeFlags = unix.O_WRONLY | unix.O_RDWR | unix.O_APPEND | unix.O_CREAT | unix.O_TRUNC

// Open creates a read handle for a photo. Any write intent is refused.
func (f *FS) Open(path string, flags int) (content.HandleID, error) {
	n, _, err := f.Stat(path)
	if err != nil {
		return 0, err
	}
	if flags&writeFlags != 0 {
		f.Stats.Denied.Add(1)
		return 0, fmt.Errorf("%w: open %s for writing", models.ErrReadOnly, path)
	}
	if n.IsDir() {
		return 0, fmt.Errorf("%w: %s", models.ErrIsDir, path)
	}
	return f.content.Open(n.ID, f.cfg.Quality)
}

// Read serves bytes from an open handle, fetching on first use.
func (f *FS) Read(ctx context.Context, fh content.HandleID, off int64, n int) ([]byte, error) {
	data, err := f.content.Read(ctx, fh, off, n)
	if err != nil {
		return nil, err
	}
	f.Stats.Reads.Add(1)
	f.Stats.BytesRead.Add(int64(len(data)))
	return data, nil
}

// Release destroys a handle.
func (f *FS) Release(fh content.HandleID) error {
	return f.content.Release(fh)
}

// HandleSize returns the real content length behind a ready handle.
func (f *FS) HandleSize(fh content.HandleID) (int64, bool) {
	h, err := f.content.Handle(fh)
	if err != nil {
		return 0, false
	}
	return h.Size()
}

// StartRefreshLoop rebuilds the tree every RefreshInterval until Close.
func (f *FS) StartRefreshLoop(ctx context.Context) {
	if f.cfg.RefreshInterval <= 0 {
		return
	}
	f.loop(ctx, f.cfg.RefreshInterval, func(ctx context.Context) {
		_ = f.Refresh(ctx)
	})
	f.log.Info("tree refresh enabled", zap.Duration("every", f.cfg.RefreshInterval))
}

// StartHealthCheck pings the remote every HealthCheckPeriod and refreshes
// the tree when it comes back online.
func (f *FS) StartHealthCheck(ctx context.Context) {
	p, ok := f.remote.(Pinger)
	if !ok || f.cfg.HealthCheckPeriod <= 0 {
		return
	}
	f.loop(ctx, f.cfg.HealthCheckPeriod, func(ctx context.Context) {
		wasOnline := p.IsOnline()
		if err := p.Ping(ctx); err != nil {
			return
		}
		if !wasOnline {
			f.log.Info("remote is back online, refreshing tree")
			if err := f.Refresh(ctx); err != nil {
				f.log.Error("refresh after reconnect failed", zap.Error(err))
			}
		}
	})
	f.log.Info("health check enabled", zap.Duration("every", f.cfg.HealthCheckPeriod))
}

func (f *FS) loop(parent context.Context, every time.Duration, tick func(context.Context)) {
	f.loopMu.Lock()
	defer f.loopMu.Unlock()
	if f.closed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	f.cancel = append(f.cancel, cancel)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops background loops, abandons in-flight fetches, releases every
// handle and empties the cache. It is safe to call more than once.
func (f *FS) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	f.loopMu.Lock()
	for _, cancel := range f.cancel {
		cancel()
	}
	f.cancel = nil
	f.loopMu.Unlock()

	f.content.Close()
	f.wg.Wait()
	f.store.Close()
}

// errReadOnly counts and returns the mutation refusal.
func (f *FS) errReadOnly(op, path string) error {
	f.Stats.Denied.Add(1)
	return fmt.Errorf("%w: %s %s", models.ErrReadOnly, op, path)
}
