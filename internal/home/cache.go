package home

import (
	"sync"
	"time"
)

type cacheEntry[T any] struct {
	value    T
	cachedAt time.Time
}

// Cache holds per-key values with a TTL. Expired entries stay around so a
// failed refresh can still serve the last good value.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given TTL.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]cacheEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key and whether it is still fresh.
func (c *Cache[T]) Get(key string) (value T, fresh bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return value, false, false
	}
	return entry.value, c.now().Sub(entry.cachedAt) < c.ttl, true
}

// Set stores value under key.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{value: value, cachedAt: c.now()}
}

// Delete removes keys.
func (c *Cache[T]) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[T])
}

// Len reports the number of entries, fresh or not.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrFetch returns the fresh cached value or calls fetch. When fetch
// fails the stale value is returned if there is one, otherwise fallback.
// The fetch error is returned alongside so callers can log it.
func (c *Cache[T]) GetOrFetch(key string, fallback T, fetch func() (T, error)) (T, error) {
	cached, fresh, ok := c.Get(key)
	if ok && fresh {
		return cached, nil
	}

	value, err := fetch()
	if err != nil {
		if ok {
			return cached, err
		}
		return fallback, err
	}
	c.Set(key, value)
	return value, nil
}
