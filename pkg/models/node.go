// Package models contains the data types shared by the remote client and the filesystem engine.
package models

import "time"

// RootID identifies the synthetic root album. Remote ids never contain a slash.
const RootID = "/"

// Kind tags a node as an album or a photo.
type Kind int

const (
	KindAlbum Kind = iota
	KindPhoto
)

func (k Kind) String() string {
	if k == KindPhoto {
		return "photo"
	}
	return "album"
}

// Entry is one item of a remote listing, before it is placed in a tree.
type Entry struct {
	ID          string    `json:"id" yaml:"id"`
	Kind        Kind      `json:"kind" yaml:"-"`
	Name        string    `json:"name" yaml:"name"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	ContentType string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Public      bool      `json:"public,omitempty" yaml:"public,omitempty"`
	Smart       bool      `json:"smart,omitempty" yaml:"smart,omitempty"`
}

// Page is one page of an album listing. LastPage is the highest page number
// the remote reports; listings without pagination have Page == LastPage == 1.
type Page struct {
	Entries  []Entry
	Page     int
	LastPage int
}

// More reports whether further pages follow this one.
func (p *Page) More() bool {
	return p.Page < p.LastPage
}

// Node is an album or photo in a built tree.
//
// Albums carry an ordered child id list. A smart album may list photos whose
// owning album (Parent) is a regular album; every other child has the listing
// album as its parent.
type Node struct {
	ID        string
	Kind      Kind
	Name      string
	Parent    string
	CreatedAt time.Time

	// Album fields.
	Children []string
	Smart    bool
	Partial  bool

	// Photo fields.
	ContentType string
	Size        int64

	Public bool
}

// IsDir reports whether the node is rendered as a directory.
func (n *Node) IsDir() bool {
	return n.Kind == KindAlbum
}

// NodeFromEntry converts a listing entry into a node owned by parent.
func NodeFromEntry(e Entry, parent string) *Node {
	return &Node{
		ID:          e.ID,
		Kind:        e.Kind,
		Name:        e.Name,
		Parent:      parent,
		CreatedAt:   e.CreatedAt,
		Smart:       e.Smart,
		ContentType: e.ContentType,
		Size:        e.Size,
		Public:      e.Public,
	}
}
