package tree

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// CollisionPolicy decides what happens when two siblings render to the same name.
type CollisionPolicy int

const (
	// CollisionSuffix keeps the first sibling's name and renames later ones
	// to "<title> (<id>).<ext>".
	CollisionSuffix CollisionPolicy = iota
	// CollisionFirstWins keeps the first sibling and hides the others.
	CollisionFirstWins
)

// ParseCollisionPolicy accepts "suffix" and "first-wins".
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "suffix":
		return CollisionSuffix, nil
	case "first-wins", "first_wins":
		return CollisionFirstWins, nil
	}
	return 0, fmt.Errorf("unknown collision policy %q", s)
}

func (p CollisionPolicy) String() string {
	if p == CollisionFirstWins {
		return "first-wins"
	}
	return "suffix"
}

var extensions = map[string]string{
	"image/jpeg":            "jpg",
	"image/pjpeg":           "jpg",
	"image/png":             "png",
	"image/gif":             "gif",
	"image/webp":            "webp",
	"image/heic":            "heic",
	"image/heif":            "heif",
	"image/avif":            "avif",
	"image/jxl":             "jxl",
	"image/tiff":            "tiff",
	"image/bmp":             "bmp",
	"image/x-ms-bmp":        "bmp",
	"image/svg+xml":         "svg",
	"image/x-icon":          "ico",
	"image/x-adobe-dng":     "dng",
	"image/x-canon-cr2":     "cr2",
	"image/x-nikon-nef":     "nef",
	"image/x-sony-arw":      "arw",
	"video/mp4":             "mp4",
	"video/quicktime":       "mov",
	"video/webm":            "webm",
	"video/x-msvideo":       "avi",
	"video/mpeg":            "mpg",
	"video/ogg":             "ogv",
	"video/x-matroska":      "mkv",
	"video/3gpp":            "3gp",
	"video/x-m4v":           "m4v",
	"application/x-mpegurl": "m3u8",
}

// equivalent extensions a title may already carry.
var extAliases = map[string][]string{
	"jpg":  {"jpeg", "jpe"},
	"tiff": {"tif"},
	"mpg":  {"mpeg"},
}

// Extension returns the file extension, without dot, for a content type.
// Parameters such as charset are ignored. Unknown types yield "".
func Extension(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return ""
	}
	if ext, ok := extensions[ct]; ok {
		return ext
	}
	if m := mimetype.Lookup(ct); m != nil {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return ""
}

// RenderName returns the directory entry name of a node before collision
// handling: the sanitised title, plus an extension for photos.
func RenderName(n *models.Node) string {
	base := sanitize(n.Name, n.ID)
	if n.Kind != models.KindPhoto {
		return base
	}
	ext := Extension(n.ContentType)
	if ext == "" || hasExt(base, ext) {
		return base
	}
	return base + "." + ext
}

func hasExt(name, ext string) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, "."+ext) {
		return true
	}
	for _, alias := range extAliases[ext] {
		if strings.HasSuffix(lower, "."+alias) {
			return true
		}
	}
	return false
}

// sanitize makes a title usable as a single path segment.
func sanitize(name, id string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\x00", "")
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return sanitize(id, "_")
	}
	return name
}

// disambiguate derives a free name for a node whose rendered name is taken.
func disambiguate(d *dirIndex, n *models.Node) string {
	base := sanitize(n.Name, n.ID)
	ext := ""
	if n.Kind == models.KindPhoto {
		if e := Extension(n.ContentType); e != "" && !hasExt(base, e) {
			ext = "." + e
		}
	}
	tag := sanitize(n.ID, "_")
	name := fmt.Sprintf("%s (%s)%s", base, tag, ext)
	for i := 2; d.taken(name); i++ {
		name = fmt.Sprintf("%s (%s-%d)%s", base, tag, i, ext)
	}
	return name
}
