package cache

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

type lruEntry struct {
	data       []byte
	size       int64
	lastAccess time.Time
	expires    time.Time
}

// LRU evicts the least recently read entry once MaxBytes would be exceeded.
type LRU struct {
	maxSize int64
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	entries   map[Key]*lruEntry
	size      int64
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU creates an in-memory LRU holding at most maxSize bytes.
func NewLRU(maxSize int64, ttl time.Duration, log *zap.Logger) *LRU {
	if log == nil {
		log = zap.NewNop()
	}
	return &LRU{
		maxSize: maxSize,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
		entries: make(map[Key]*lruEntry),
	}
}

// Get returns cached content and refreshes its recency.
func (c *LRU) Get(k Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[k]
	if ok && c.expired(entry) {
		c.remove(k, entry)
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	entry.lastAccess = c.now()
	return entry.data, true
}

// Put stores data, evicting old entries as needed. Content larger than the
// whole cache is not stored.
func (c *LRU) Put(k Key, data []byte) bool {
	size := int64(len(data))
	if size > c.maxSize {
		c.log.Debug("content larger than cache, not stored",
			zap.Stringer("key", k), zap.String("size", humanize.Bytes(uint64(size))))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[k]; ok {
		c.remove(k, old)
	}
	for c.size+size > c.maxSize {
		if !c.evictOldest() {
			break
		}
	}

	now := c.now()
	entry := &lruEntry{data: data, size: size, lastAccess: now}
	if c.ttl > 0 {
		entry.expires = now.Add(c.ttl)
	}
	c.entries[k] = entry
	c.size += size
	return true
}

// Evict drops one entry.
func (c *LRU) Evict(k Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[k]; ok {
		c.remove(k, entry)
	}
}

// Stats returns cache statistics.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Policy:    PolicyLRU,
		Entries:   len(c.entries),
		Bytes:     c.size,
		MaxBytes:  c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Close drops every entry.
func (c *LRU) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]*lruEntry)
	c.size = 0
}

func (c *LRU) expired(e *lruEntry) bool {
	return !e.expires.IsZero() && !c.now().Before(e.expires)
}

// evictOldest removes expired entries, or else the least recently used one.
// Must be called with lock held.
func (c *LRU) evictOldest() bool {
	var oldest *lruEntry
	var oldestKey Key

	for k, entry := range c.entries {
		if c.expired(entry) {
			c.remove(k, entry)
			c.evictions++
			return true
		}
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
			oldestKey = k
		}
	}
	if oldest == nil {
		return false
	}

	c.remove(oldestKey, oldest)
	c.evictions++
	return true
}

func (c *LRU) remove(k Key, e *lruEntry) {
	c.size -= e.size
	delete(c.entries, k)
}
