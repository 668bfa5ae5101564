// Package toolcache implements the process-wide server cache for tool
// results. Entries are keyed by a canonical hash of (tool name, normalized
// arguments) and carry a caller-supplied TTL, so semantically identical
// calls hit the cache regardless of incidental argument formatting. The
// cache itself is TTL-class-agnostic.
package toolcache

import (
	"sync"
	"time"
)

// DefaultMaxEntries bounds the cache when no explicit limit is configured.
const DefaultMaxEntries = 1024

// Options configures a Cache.
type Options struct {
	// MaxEntries caps the number of live entries. When the cap is exceeded
	// the least recently used entry is evicted. Values <= 0 fall back to
	// DefaultMaxEntries.
	MaxEntries int
}

type entry struct {
	value      any
	expiresAt  time.Time
	lastAccess time.Time
}

// Cache is a fixed-TTL key/value store safe for concurrent use. Expired
// entries are treated as misses and purged lazily at read time; writes to
// the same key replace the entry wholesale (last writer wins).
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int

	now func() time.Time // overridable in tests
}

// New constructs an empty cache.
func New(optFns ...func(o *Options)) *Cache {
	opts := Options{MaxEntries: DefaultMaxEntries}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]entry),
		maxEntries: opts.MaxEntries,
		now:        time.Now,
	}
}

// Get returns the value for key if present and unexpired. The expiry check
// happens under the lock, so a read can never observe a stale value.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	e.lastAccess = now
	c.entries[key] = e
	return e.value, true
}

// Set stores value under key for the given TTL, replacing any previous
// entry. A non-positive TTL is a no-op: such entries could never be read.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl), lastAccess: now}
	if len(c.entries) > c.maxEntries {
		c.evictLocked(now)
	}
}

// Delete removes an entry if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of stored entries, including any not yet lazily
// purged.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictLocked drops expired entries first, then the least recently used
// entries until the cache fits its cap. Caller must hold the lock.
func (c *Cache) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	for len(c.entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.lastAccess.Before(oldest) {
				oldestKey = key
				oldest = e.lastAccess
			}
		}
		delete(c.entries, oldestKey)
	}
}
