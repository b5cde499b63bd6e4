// Package tree holds an immutable snapshot of a remote album hierarchy and
// resolves filesystem paths against it.
package tree

import (
	"fmt"
	"strings"
	"time"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// maxDepth bounds parent-chain walks.
const maxDepth = 256

// Tree is one snapshot of the remote hierarchy. It is never modified after
// Build returns it, so it can be shared by concurrent readers. Nodes returned
// by its methods must be treated as read-only.
type Tree struct {
	nodes   map[string]*models.Node
	dirs    map[string]*dirIndex
	builtAt time.Time
	stats   Stats
}

// Stats summarises a snapshot.
type Stats struct {
	Albums     int
	Photos     int
	Collisions int // rendered names that clashed with an earlier sibling
	Hidden     int // siblings dropped by CollisionFirstWins
	Partial    int // albums left empty by FailBestEffort
}

// DirEntry is one visible child of an album.
type DirEntry struct {
	Name string
	Node *models.Node
}

// dirIndex is the rendered view of an album's children in listing order.
type dirIndex struct {
	names  []string
	ids    []string
	byName map[string]string
	nameOf map[string]string
}

func newDirIndex(n int) *dirIndex {
	return &dirIndex{
		names:  make([]string, 0, n),
		ids:    make([]string, 0, n),
		byName: make(map[string]string, n),
		nameOf: make(map[string]string, n),
	}
}

func (d *dirIndex) add(name, id string) {
	d.names = append(d.names, name)
	d.ids = append(d.ids, id)
	d.byName[name] = id
	d.nameOf[id] = name
}

func (d *dirIndex) taken(name string) bool {
	_, ok := d.byName[name]
	return ok
}

func newTree() *Tree {
	root := &models.Node{ID: models.RootID, Kind: models.KindAlbum}
	return &Tree{
		nodes: map[string]*models.Node{models.RootID: root},
		dirs:  make(map[string]*dirIndex),
	}
}

// Root returns the root album.
func (t *Tree) Root() *models.Node {
	return t.nodes[models.RootID]
}

// Node returns the node with the given remote id.
func (t *Tree) Node(id string) (*models.Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// BuiltAt returns when the snapshot was completed.
func (t *Tree) BuiltAt() time.Time {
	return t.builtAt
}

// Stats returns counters collected while building.
func (t *Tree) Stats() Stats {
	return t.stats
}

// Resolve maps a slash-separated path to a node. The empty path and "/"
// resolve to the root. Resolution never performs I/O.
func (t *Tree) Resolve(path string) (*models.Node, error) {
	cur := t.Root()
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		if !cur.IsDir() {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		next, ok := t.Lookup(cur.ID, seg)
		if !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrNotFound, path)
		}
		cur = next
	}
	return cur, nil
}

// Lookup finds the child of album dirID whose rendered name is name.
func (t *Tree) Lookup(dirID, name string) (*models.Node, bool) {
	d := t.dirs[dirID]
	if d == nil {
		return nil, false
	}
	id, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return t.nodes[id], true
}

// Entries lists the visible children of an album in remote order.
func (t *Tree) Entries(dirID string) ([]DirEntry, error) {
	n, ok := t.nodes[dirID]
	if !ok {
		return nil, fmt.Errorf("%w: album %s", models.ErrNotFound, dirID)
	}
	if !n.IsDir() {
		return nil, fmt.Errorf("%w: %s", models.ErrNotDir, n.Name)
	}
	d := t.dirs[dirID]
	if d == nil {
		return nil, nil
	}
	out := make([]DirEntry, len(d.ids))
	for i, id := range d.ids {
		out[i] = DirEntry{Name: d.names[i], Node: t.nodes[id]}
	}
	return out, nil
}

// PathOf returns the canonical path of a node: the route through its owning
// albums. It returns "" for nodes hidden by a name collision.
func (t *Tree) PathOf(id string) string {
	if id == models.RootID {
		return "/"
	}
	var segs []string
	for depth := 0; id != models.RootID; depth++ {
		n, ok := t.nodes[id]
		if !ok || depth > maxDepth {
			return ""
		}
		d := t.dirs[n.Parent]
		if d == nil {
			return ""
		}
		name, ok := d.nameOf[id]
		if !ok {
			return ""
		}
		segs = append(segs, name)
		id = n.Parent
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return "/" + strings.Join(segs, "/")
}

// WalkFunc is called for every visible node, root first. A non-nil error
// stops the walk.
type WalkFunc func(path string, n *models.Node) error

// Walk visits the tree depth-first in listing order. Photos listed by smart
// albums are visited once per listing.
func (t *Tree) Walk(fn WalkFunc) error {
	return t.walk("/", t.Root(), fn)
}

func (t *Tree) walk(path string, n *models.Node, fn WalkFunc) error {
	if err := fn(path, n); err != nil {
		return err
	}
	d := t.dirs[n.ID]
	if !n.IsDir() || d == nil {
		return nil
	}
	for i, id := range d.ids {
		if err := t.walk(joinPath(path, d.names[i]), t.nodes[id], fn); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
