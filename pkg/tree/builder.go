package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// Lister is the part of the remote client the builder needs.
type Lister interface {
	ListSmartAlbums(ctx context.Context) ([]models.Entry, error)
	ListChildren(ctx context.Context, albumID string, page int) (*models.Page, error)
}

// FailurePolicy decides what a failed sub-album listing does to a build.
type FailurePolicy int

const (
	// FailAbort discards the whole build.
	FailAbort FailurePolicy = iota
	// FailBestEffort keeps the album, empty and marked Partial.
	FailBestEffort
)

// ParseFailurePolicy accepts "abort" and "best-effort".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(s) {
	case "", "abort":
		return FailAbort, nil
	case "best-effort", "best_effort":
		return FailBestEffort, nil
	}
	return 0, fmt.Errorf("unknown failure policy %q", s)
}

func (p FailurePolicy) String() string {
	if p == FailBestEffort {
		return "best-effort"
	}
	return "abort"
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	Collisions CollisionPolicy
	OnError    FailurePolicy
	Logger     *zap.Logger
	// MaxPages caps pagination per album against a misbehaving server.
	MaxPages int
}

// Builder walks the remote hierarchy into a Tree.
type Builder struct {
	lister Lister
	cfg    BuilderConfig
	log    *zap.Logger
}

// NewBuilder creates a builder reading from l.
func NewBuilder(l Lister, cfg BuilderConfig) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10000
	}
	return &Builder{lister: l, cfg: cfg, log: cfg.Logger}
}

// Build performs a full breadth-first traversal and returns a new snapshot.
//
// Regular albums are walked before smart albums, so a photo that is also
// listed by a smart album stays owned by its regular album. The root lists
// smart albums first, then regular albums, each in remote order.
func (b *Builder) Build(ctx context.Context) (*Tree, error) {
	start := time.Now()
	t := newTree()
	root := t.Root()

	smart, err := b.lister.ListSmartAlbums(ctx)
	if err != nil {
		return nil, classify(err)
	}
	top, err := b.drain(ctx, models.RootID)
	if err != nil {
		return nil, classify(err)
	}

	var smartQueue, queue []string
	for _, e := range smart {
		e.Kind = models.KindAlbum
		e.Smart = true
		if b.place(t, root, e) {
			smartQueue = append(smartQueue, e.ID)
		}
	}
	for _, e := range top {
		if b.place(t, root, e) && e.Kind == models.KindAlbum {
			queue = append(queue, e.ID)
		}
	}

	if err := b.walk(ctx, t, queue, b.cfg.OnError == FailAbort); err != nil {
		return nil, err
	}
	// Smart album listings are never partial.
	if err := b.walk(ctx, t, smartQueue, true); err != nil {
		return nil, err
	}

	t.index(b.cfg.Collisions, b.log)
	t.builtAt = time.Now()

	b.log.Info("tree built",
		zap.Int("albums", t.stats.Albums),
		zap.Int("photos", t.stats.Photos),
		zap.Int("collisions", t.stats.Collisions),
		zap.Int("partial", t.stats.Partial),
		zap.Duration("took", time.Since(start)))
	return t, nil
}

// walk lists every album in queue, appending discovered sub-albums. A
// listing failure aborts the walk when abort is set; otherwise the album is
// kept empty and marked partial.
func (b *Builder) walk(ctx context.Context, t *Tree, queue []string, abort bool) error {
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		album := t.nodes[queue[0]]
		queue = queue[1:]

		entries, err := b.drain(ctx, album.ID)
		if err != nil {
			if ctx.Err() != nil || abort {
				return fmt.Errorf("list album %q: %w", album.Name, classify(err))
			}
			album.Partial = true
			t.stats.Partial++
			b.log.Warn("album listing failed, keeping it empty",
				zap.String("album", album.ID), zap.String("name", album.Name), zap.Error(err))
			continue
		}
		for _, e := range entries {
			if b.place(t, album, e) && e.Kind == models.KindAlbum {
				queue = append(queue, e.ID)
			}
		}
	}
	return nil
}

// drain collects every page of an album listing.
func (b *Builder) drain(ctx context.Context, albumID string) ([]models.Entry, error) {
	var out []models.Entry
	for page := 1; page <= b.cfg.MaxPages; page++ {
		p, err := b.lister.ListChildren(ctx, albumID, page)
		if err != nil {
			return nil, err
		}
		if p == nil {
			break
		}
		out = append(out, p.Entries...)
		if !p.More() || p.Page < page {
			break
		}
		if page == b.cfg.MaxPages {
			b.log.Warn("pagination limit reached", zap.String("album", albumID), zap.Int("pages", page))
		}
	}
	return out, nil
}

// place inserts e under parent. It reports whether a new node was created.
// Albums are only ever listed once. A photo seen before is referenced again
// only by a smart album.
func (b *Builder) place(t *Tree, parent *models.Node, e models.Entry) bool {
	if e.ID == "" || e.ID == models.RootID {
		b.log.Debug("skipping entry without usable id", zap.String("name", e.Name))
		return false
	}
	if existing, ok := t.nodes[e.ID]; ok {
		if existing.Kind == models.KindPhoto && e.Kind == models.KindPhoto &&
			parent.Smart && !containsID(parent.Children, e.ID) {
			parent.Children = append(parent.Children, e.ID)
		}
		return false
	}

	n := models.NodeFromEntry(e, parent.ID)
	t.nodes[n.ID] = n
	parent.Children = append(parent.Children, n.ID)
	if n.IsDir() {
		t.stats.Albums++
	} else {
		t.stats.Photos++
	}
	return true
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// index renders child names for every album.
func (t *Tree) index(policy CollisionPolicy, log *zap.Logger) {
	for id, n := range t.nodes {
		if !n.IsDir() {
			continue
		}
		d := newDirIndex(len(n.Children))
		for _, cid := range n.Children {
			c := t.nodes[cid]
			name := RenderName(c)
			if d.taken(name) {
				t.stats.Collisions++
				if policy == CollisionFirstWins {
					t.stats.Hidden++
					log.Warn("name collision, hiding entry",
						zap.String("album", id), zap.String("name", name), zap.String("hidden", cid))
					continue
				}
				renamed := disambiguate(d, c)
				log.Debug("name collision, renaming entry",
					zap.String("album", id), zap.String("name", name), zap.String("as", renamed))
				name = renamed
			}
			d.add(name, cid)
		}
		t.dirs[id] = d
	}
}

// classify folds listing errors into the build error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, models.ErrAuthRequired),
		errors.Is(err, models.ErrRemoteUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrRemoteUnavailable, err)
}
