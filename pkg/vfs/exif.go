package vfs

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// photoMeta is what the exif xattrs expose. Zero fields are absent.
type photoMeta struct {
	Taken  time.Time
	Camera string
	Width  int
	Height int
	GPS    string
}

// readExif decodes EXIF from downloaded photo bytes. Photos without EXIF
// yield an empty photoMeta.
func readExif(data []byte) photoMeta {
	var m photoMeta
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return m
	}

	m.Camera = strings.TrimSpace(tagString(x, exif.Make) + " " + tagString(x, exif.Model))
	if dt, err := x.DateTime(); err == nil {
		m.Taken = dt
	}
	m.Width = tagInt(x, exif.PixelXDimension)
	m.Height = tagInt(x, exif.PixelYDimension)
	if lat, lon, err := x.LatLong(); err == nil && !math.IsNaN(lat) && !math.IsNaN(lon) {
		m.GPS = fmt.Sprintf("%.6f,%.6f", lat, lon)
	}
	return m
}

// attrs lists the populated fields as xattr suffixes and values.
func (m photoMeta) attrs() map[string]string {
	out := make(map[string]string)
	if !m.Taken.IsZero() {
		out["exif.taken"] = m.Taken.Format(time.RFC3339)
	}
	if m.Camera != "" {
		out["exif.camera"] = m.Camera
	}
	if m.Width > 0 && m.Height > 0 {
		out["exif.dimensions"] = fmt.Sprintf("%dx%d", m.Width, m.Height)
	}
	if m.GPS != "" {
		out["exif.gps"] = m.GPS
	}
	return out
}

func tagString(x *exif.Exif, f exif.FieldName) string {
	tag, err := x.Get(f)
	if err != nil {
		return ""
	}
	if tag.Format() == tiff.StringVal {
		s, _ := tag.StringVal()
		return strings.TrimSpace(s)
	}
	return tag.String()
}

func tagInt(x *exif.Exif, f exif.FieldName) int {
	tag, err := x.Get(f)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}
