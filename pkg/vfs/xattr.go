package vfs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/models"
)

// XattrPrefix namespaces the read-only extended attributes.
const XattrPrefix = "user.lycheefs."

// Listxattr names the extended attributes of path.
func (f *FS) Listxattr(path string) ([]string, error) {
	n, _, err := f.Stat(path)
	if err != nil {
		return nil, err
	}
	names := []string{"id", "kind", "path", "online"}
	if !n.IsDir() {
		names = append(names, "quality", "content_type", "cached")
	}
	if n.Partial {
		names = append(names, "partial")
	}
	if !n.IsDir() {
		if data, ok := f.content.Peek(cache.Key{PhotoID: n.ID, Quality: f.cfg.Quality}); ok {
			meta := readExif(data).attrs()
			extra := make([]string, 0, len(meta))
			for k := range meta {
				extra = append(extra, k)
			}
			sort.Strings(extra)
			names = append(names, extra...)
		}
	}
	for i, name := range names {
		names[i] = XattrPrefix + name
	}
	return names, nil
}

// Getxattr returns one extended attribute. For cached photos the content
// type is sniffed from the bytes and EXIF fields become available.
func (f *FS) Getxattr(path, name string) ([]byte, error) {
	n, _, err := f.Stat(path)
	if err != nil {
		return nil, err
	}
	attr, ok := strings.CutPrefix(name, XattrPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAttr, name)
	}

	key := cache.Key{PhotoID: n.ID, Quality: f.cfg.Quality}
	switch attr {
	case "id":
		return []byte(n.ID), nil
	case "kind":
		return []byte(n.Kind.String()), nil
	case "path":
		return []byte(f.snap.Load().PathOf(n.ID)), nil
	case "online":
		return boolAttr(f.IsOnline()), nil
	case "partial":
		if n.Partial {
			return boolAttr(true), nil
		}
	}
	if n.Kind == models.KindPhoto {
		switch attr {
		case "quality":
			return []byte(f.cfg.Quality.String()), nil
		case "cached":
			return boolAttr(f.content.Cached(key)), nil
		case "content_type":
			if data, ok := f.content.Peek(key); ok {
				return []byte(mimetype.Detect(data).String()), nil
			}
			return []byte(n.ContentType), nil
		}
		if strings.HasPrefix(attr, "exif.") {
			if data, ok := f.content.Peek(key); ok {
				if v, ok := readExif(data).attrs()[attr]; ok {
					return []byte(v), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoAttr, name)
}

func boolAttr(v bool) []byte {
	if v {
		return []byte("1")
	}
	return []byte("0")
}
