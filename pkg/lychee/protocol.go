package lychee

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// Lychee releases disagree on whether ids, sizes and flags are strings,
// numbers or booleans. The flex types accept all of them.

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(b)
	return nil
}

type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(s), 64)
		if ferr != nil {
			return err
		}
		v = int64(f)
	}
	*n = flexInt(v)
	return nil
}

type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToLower(string(s)) {
	case "1", "true":
		*v = true
	default:
		*v = false
	}
	return nil
}

// albumsResponse is the body of Albums::get.
type albumsResponse struct {
	SmartAlbums       *smartAlbums `json:"smart_albums"`
	LegacySmartAlbums *smartAlbums `json:"smartalbums"`
	Albums            []album      `json:"albums"`
	SharedAlbums      []album      `json:"shared_albums"`
}

type smartAlbums struct {
	Recent   *album `json:"recent"`
	Starred  *album `json:"starred"`
	Public   *album `json:"public"`
	Unsorted *album `json:"unsorted"`
}

// ordered returns the non-null smart albums in a fixed order.
func (s *smartAlbums) ordered() []smartAlbum {
	var out []smartAlbum
	for _, sa := range []smartAlbum{
		{"recent", s.Recent},
		{"starred", s.Starred},
		{"public", s.Public},
		{"unsorted", s.Unsorted},
	} {
		if sa.album != nil {
			out = append(out, sa)
		}
	}
	return out
}

type smartAlbum struct {
	key   string
	album *album
}

// album is both a listing item and the body of Album::get.
type album struct {
	ID          flexString `json:"id"`
	Title       string     `json:"title"`
	CreatedAt   string     `json:"created_at"`
	IsPublic    flexBool   `json:"is_public"`
	Albums      []album    `json:"albums"`
	Photos      []photo    `json:"photos"`
	CurrentPage flexInt    `json:"current_page"`
	LastPage    flexInt    `json:"last_page"`
}

func (a *album) entry() models.Entry {
	return models.Entry{
		ID:        string(a.ID),
		Kind:      models.KindAlbum,
		Name:      a.Title,
		CreatedAt: parseTime(a.CreatedAt),
		Public:    bool(a.IsPublic),
	}
}

type photo struct {
	ID           flexString          `json:"id"`
	Title        string              `json:"title"`
	Type         string              `json:"type"`
	CreatedAt    string              `json:"created_at"`
	Filesize     flexInt             `json:"filesize"`
	IsPublic     flexBool            `json:"is_public"`
	SizeVariants map[string]*variant `json:"size_variants"`
}

type variant struct {
	URL      string  `json:"url"`
	Filesize flexInt `json:"filesize"`
	Width    flexInt `json:"width"`
	Height   flexInt `json:"height"`
}

func (p *photo) entry() models.Entry {
	size := int64(p.Filesize)
	if size == 0 {
		if v := p.SizeVariants["original"]; v != nil {
			size = int64(v.Filesize)
		}
	}
	return models.Entry{
		ID:          string(p.ID),
		Kind:        models.KindPhoto,
		Name:        p.Title,
		CreatedAt:   parseTime(p.CreatedAt),
		ContentType: p.Type,
		Size:        size,
		Public:      bool(p.IsPublic),
	}
}

// pickVariant returns the lowest variant at or above min that has a URL.
// It returns nil when none does; callers then download the original archive.
func (p *photo) pickVariant(min models.Quality) (models.Quality, *variant) {
	for _, q := range models.Qualities() {
		if q < min {
			continue
		}
		if v := p.SizeVariants[q.String()]; v != nil && v.URL != "" {
			return q, v
		}
	}
	return models.QualityOriginal, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
