package cache

import (
	"context"
	"sync"
	"time"
)

// Clock returns the current time
type Clock func() time.Time

type entry struct {
	data      any
	timestamp time.Time
}

// TTLCache memoizes fetch results per key. An entry is valid while its age is
// below the ttl passed on lookup; expired entries are overwritten, never evicted.
// Failures are not cached.
type TTLCache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     Clock
}

// NewTTLCache creates an empty cache. A nil clock uses time.Now.
func NewTTLCache(now Clock) *TTLCache {
	if now == nil {
		now = time.Now
	}
	return &TTLCache{
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get returns the stored value when it is younger than ttl
func (c *TTLCache) Get(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.timestamp) >= ttl {
		return nil, false
	}
	return e.data, true
}

// Set stores value under key stamped with the current time
func (c *TTLCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{data: value, timestamp: c.now()}
}

// Len returns the number of stored entries, expired ones included
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetCached returns the cached value for key or calls fetch and stores its result.
// The lock is not held while fetch runs, so concurrent misses may fetch twice.
func GetCached[T any](ctx context.Context, c *TTLCache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key, ttl); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	value, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, value)
	return value, nil
}
