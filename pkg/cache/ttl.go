package cache

import (
	"context"
	"sync"
	"time"
)

// TTLCache is an in-memory map whose entries expire after a fixed TTL.
// Expiry is checked on every read, so a stale entry is never returned even
// between sweeps. Safe for concurrent use.
type TTLCache[V any] struct {
	mu       sync.RWMutex
	entries  map[string]*ttlEntry[V]
	ttl      time.Duration
	maxSize  int
	now      func() time.Time
	onLookup func(hit bool)
}

type ttlEntry[V any] struct {
	value      V
	expiresAt  time.Time
	lastAccess time.Time
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	now      func() time.Time
	onLookup func(hit bool)
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLookupObserver registers a callback invoked on every Get with hit/miss.
func WithLookupObserver(fn func(hit bool)) Option {
	return func(o *options) { o.onLookup = fn }
}

// NewTTLCache creates a cache. maxSize <= 0 means 10000 entries.
func NewTTLCache[V any](ttl time.Duration, maxSize int, opts ...Option) *TTLCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &TTLCache[V]{
		entries:  make(map[string]*ttlEntry[V]),
		ttl:      ttl,
		maxSize:  maxSize,
		now:      o.now,
		onLookup: o.onLookup,
	}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && now.After(entry.expiresAt) {
		ok = false
	}
	var value V
	if ok {
		entry.lastAccess = now
		value = entry.value
	}
	c.mu.Unlock()

	if c.onLookup != nil {
		c.onLookup(ok)
	}
	return value, ok
}

// Set stores value under key with the cache TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *TTLCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked(now)
	}
	c.entries[key] = &ttlEntry[V]{
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (c *TTLCache[V]) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *TTLCache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// evictLocked drops expired entries, or the least recently used one if none expired.
// Caller must hold the write lock.
func (c *TTLCache[V]) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	expired := false

	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			expired = true
			continue
		}
		if oldestKey == "" || entry.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccess
		}
	}

	if !expired && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
