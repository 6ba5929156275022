// Package cache holds process wide values with optional expiry and values
// scoped to a single gin request.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time // zero means never
}

// AppCache is a concurrency safe in-process cache.
type AppCache struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

// New creates an empty cache.
func New() *AppCache {
	return &AppCache{items: make(map[string]entry), now: time.Now}
}

var defaultCache = New()

// Default returns the process wide cache.
func Default() *AppCache { return defaultCache }

// Set stores v under key. A positive expire makes the value disappear after
// that long; zero keeps it until Clear.
func (c *AppCache) Set(key string, v any, expire time.Duration) {
	e := entry{value: v}
	if expire > 0 {
		e.expiresAt = c.now().Add(expire)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
}

// Get returns the value of key. Expired values are misses.
func (c *AppCache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Delete removes key.
func (c *AppCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every value.
func (c *AppCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of stored values, expired ones included.
func (c *AppCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// GetAs returns the value of key when it has type T.
func GetAs[T any](c *AppCache, key string) (T, bool) {
	v, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
