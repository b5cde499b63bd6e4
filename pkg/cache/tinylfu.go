package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// TinyLFU is a ristretto-backed store. Admission is frequency based, so a
// Put may be rejected when the cache is full of hotter content.
type TinyLFU struct {
	c       *ristretto.Cache[string, []byte]
	ttl     time.Duration
	maxCost int64
}

// NewTinyLFU creates a store costing entries by their byte length.
func NewTinyLFU(maxBytes int64, ttl time.Duration) (*TinyLFU, error) {
	// ristretto wants roughly ten counters per expected entry; assume
	// photos of about 256KiB.
	counters := maxBytes / (256 << 10) * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        counters,
		MaxCost:            maxBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create tinylfu cache: %w", err)
	}
	return &TinyLFU{c: c, ttl: ttl, maxCost: maxBytes}, nil
}

func (s *TinyLFU) Get(k Key) ([]byte, bool) {
	return s.c.Get(k.String())
}

// Put stores data and waits until it is visible to Get.
func (s *TinyLFU) Put(k Key, data []byte) bool {
	cost := int64(len(data))
	if cost > s.maxCost {
		return false
	}
	ok := s.c.SetWithTTL(k.String(), data, cost, s.ttl)
	s.c.Wait()
	return ok
}

func (s *TinyLFU) Evict(k Key) {
	s.c.Del(k.String())
}

func (s *TinyLFU) Stats() Stats {
	m := s.c.Metrics
	entries := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	bytes := int64(m.CostAdded()) - int64(m.CostEvicted())
	return Stats{
		Policy:    PolicyTinyLFU,
		Entries:   int(max(entries, 0)),
		Bytes:     max(bytes, 0),
		MaxBytes:  s.c.MaxCost(),
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		Evictions: m.KeysEvicted(),
	}
}

func (s *TinyLFU) Close() {
	s.c.Close()
}
