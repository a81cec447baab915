// Package cache provides the in-memory and storage-backed caches used for
// analysis hints, the store list and drafts.
package cache

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value    V
	storedAt int64
}

// TTLCache is a size-bounded in-memory cache whose entries expire after a
// fixed TTL.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]ttlEntry[V]
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// TTLCacheOptions configures the cache
type TTLCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewTTLCache creates a new cache. A non-positive TTL never expires entries;
// a non-positive MaxSize disables the size bound.
func NewTTLCache[V any](opts TTLCacheOptions) *TTLCache[V] {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	maxSize := opts.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}
	return &TTLCache[V]{
		entries: make(map[string]ttlEntry[V]),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	return c.GetAt(key, c.now())
}

// GetAt looks up key with an explicit timestamp (for testing)
func (c *TTLCache[V]) GetAt(key string, now time.Time) (V, bool) {
	var zero V
	if key == "" {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(entry, now.UnixMilli()) {
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key.
func (c *TTLCache[V]) Set(key string, value V) {
	c.SetAt(key, value, c.now())
}

// SetAt stores value with an explicit timestamp (for testing)
func (c *TTLCache[V]) SetAt(key string, value V, now time.Time) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	nowUnix := now.UnixMilli()
	c.entries[key] = ttlEntry[V]{value: value, storedAt: nowUnix}
	c.prune(nowUnix)
}

func (c *TTLCache[V]) expired(entry ttlEntry[V], nowUnix int64) bool {
	return c.ttl > 0 && nowUnix-entry.storedAt >= c.ttl.Milliseconds()
}

// prune removes expired and excess entries
func (c *TTLCache[V]) prune(nowUnix int64) {
	if c.ttl > 0 {
		for key, entry := range c.entries {
			if c.expired(entry, nowUnix) {
				delete(c.entries, key)
			}
		}
	}
	if c.maxSize <= 0 {
		return
	}
	for len(c.entries) > c.maxSize {
		var oldestKey string
		oldestTs := int64(^uint64(0) >> 1)
		for k, entry := range c.entries {
			if entry.storedAt < oldestTs {
				oldestTs = entry.storedAt
				oldestKey = k
			}
		}
		if oldestKey == "" {
			break
		}
		delete(c.entries, oldestKey)
	}
}

// Remove deletes key.
func (c *TTLCache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ttlEntry[V])
}

// Size returns current number of entries
func (c *TTLCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
