// Package cache keeps fetched photo content in a bounded, process-wide store
// keyed by photo id and quality.
package cache

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// Key identifies one rendition of a photo.
type Key struct {
	PhotoID string
	Quality models.Quality
}

func (k Key) String() string {
	return k.PhotoID + "@" + k.Quality.String()
}

// Store is a bounded content cache. Implementations are safe for concurrent use.
type Store interface {
	// Get returns the cached content. Callers must not modify it.
	Get(k Key) ([]byte, bool)
	// Put stores data and reports whether it was admitted.
	Put(k Key, data []byte) bool
	Evict(k Key)
	Stats() Stats
	Close()
}

// Stats describes a store. Entries and Bytes are approximate for TinyLFU.
type Stats struct {
	Policy    Policy
	Entries   int
	Bytes     int64
	MaxBytes  int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Policy names an eviction strategy.
type Policy string

const (
	PolicyLRU     Policy = "lru"
	PolicyTinyLFU Policy = "tinylfu"
	PolicyNone    Policy = "none"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case PolicyLRU, PolicyTinyLFU, PolicyNone:
		return p, nil
	case "":
		return PolicyLRU, nil
	}
	return "", fmt.Errorf("unknown cache policy %q", s)
}

// Config selects and sizes a store.
type Config struct {
	Policy   Policy
	MaxBytes int64
	TTL      time.Duration // 0 keeps entries until evicted for space
	Logger   *zap.Logger
}

// DefaultMaxBytes is used when MaxBytes is unset.
const DefaultMaxBytes = 512 << 20

// New builds the store selected by cfg.Policy.
func New(cfg Config) (Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative")
	}
	switch cfg.Policy {
	case PolicyLRU, "":
		return NewLRU(cfg.MaxBytes, cfg.TTL, cfg.Logger), nil
	case PolicyTinyLFU:
		return NewTinyLFU(cfg.MaxBytes, cfg.TTL)
	case PolicyNone:
		return Disabled{}, nil
	}
	return nil, fmt.Errorf("unknown cache policy %q", cfg.Policy)
}

// Disabled caches nothing. Every open fetches its own copy.
type Disabled struct{}

func (Disabled) Get(Key) ([]byte, bool) { return nil, false }
func (Disabled) Put(Key, []byte) bool   { return false }
func (Disabled) Evict(Key)              {}
func (Disabled) Stats() Stats           { return Stats{Policy: PolicyNone} }
func (Disabled) Close()                 {}

// IsDisabled reports whether s never stores anything.
func IsDisabled(s Store) bool {
	_, ok := s.(Disabled)
	return ok || s == nil
}
