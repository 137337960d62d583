package secrets

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

// Cache is a concurrency-safe TTL map keyed by string.
type Cache[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	ttl   time.Duration
	now   func() time.Time
}

// NewCache returns a cache whose entries live for ttl.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get returns the value for key if it has not expired.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false
	}
	if c.now().After(e.expires) {
		c.Bust(key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, replacing any previous entry.
func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.items[key] = entry[T]{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Bust drops key, e.g. after a credential rotation.
func (c *Cache[T]) Bust(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len reports the number of entries, expired ones included.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// StartCleaner evicts expired entries every interval until stop is closed.
func (c *Cache[T]) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-stop:
			return
		}
	}
}

func (c *Cache[T]) evictExpired() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.items {
		if now.After(e.expires) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}
