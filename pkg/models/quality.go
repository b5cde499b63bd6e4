package models

import (
	"fmt"
	"strings"
)

// Quality is a size variant tier, ordered from lowest to highest fidelity.
type Quality int

const (
	QualityThumb Quality = iota
	QualityThumb2x
	QualitySmall
	QualitySmall2x
	QualityMedium
	QualityMedium2x
	QualityOriginal
)

// DefaultQuality is used when an instance does not configure one.
const DefaultQuality = QualityMedium

var qualityNames = [...]string{
	QualityThumb:    "thumb",
	QualityThumb2x:  "thumb2x",
	QualitySmall:    "small",
	QualitySmall2x:  "small2x",
	QualityMedium:   "medium",
	QualityMedium2x: "medium2x",
	QualityOriginal: "original",
}

// Qualities lists every tier from lowest to highest.
func Qualities() []Quality {
	return []Quality{
		QualityThumb, QualityThumb2x, QualitySmall, QualitySmall2x,
		QualityMedium, QualityMedium2x, QualityOriginal,
	}
}

func (q Quality) String() string {
	if q < QualityThumb || q > QualityOriginal {
		return fmt.Sprintf("quality(%d)", int(q))
	}
	return qualityNames[q]
}

// ParseQuality parses a tier name. "full" is accepted as an alias for original.
func ParseQuality(s string) (Quality, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "full" {
		return QualityOriginal, nil
	}
	for i, n := range qualityNames {
		if n == name {
			return Quality(i), nil
		}
	}
	return 0, fmt.Errorf("unknown quality %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	v, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}
