package tree

import (
	"os"
	"time"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// Epoch is the timestamp reported for smart albums and undated nodes.
var Epoch = time.Unix(0, 0).UTC()

const (
	dirPerm  os.FileMode = 0o555
	filePerm os.FileMode = 0o444
)

// Attrs are the POSIX attributes synthesized for a node.
type Attrs struct {
	Mode  os.FileMode
	Size  int64
	Nlink uint32
	Mtime time.Time
	Ctime time.Time
	Atime time.Time
}

// Attributes derives attributes from the snapshot alone.
//
// Albums report their visible child count as size and the newest child
// creation time as mtime. Smart album times are always Epoch. Photo sizes
// are what the remote declared, which may not match the fetched variant.
func (t *Tree) Attributes(n *models.Node) Attrs {
	if n.IsDir() {
		return t.albumAttrs(n)
	}
	ts := orEpoch(n.CreatedAt)
	size := n.Size
	if size < 0 {
		size = 0
	}
	return Attrs{
		Mode:  filePerm,
		Size:  size,
		Nlink: 1,
		Mtime: ts,
		Ctime: ts,
		Atime: ts,
	}
}

func (t *Tree) albumAttrs(n *models.Node) Attrs {
	a := Attrs{Mode: os.ModeDir | dirPerm, Nlink: 2}

	var latest time.Time
	if d := t.dirs[n.ID]; d != nil {
		a.Size = int64(len(d.ids))
		for _, id := range d.ids {
			c := t.nodes[id]
			if c.IsDir() {
				a.Nlink++
			}
			if c.CreatedAt.After(latest) {
				latest = c.CreatedAt
			}
		}
	}

	switch {
	case n.Smart:
		latest = Epoch
	case latest.IsZero():
		latest = orEpoch(n.CreatedAt)
	}
	a.Mtime, a.Ctime, a.Atime = latest, latest, latest
	return a
}

func orEpoch(ts time.Time) time.Time {
	if ts.IsZero() {
		return Epoch
	}
	return ts
}
