// Package cache provides a small in-process TTL cache used for zero-cost
// access tokens. Entries are evicted lazily when read past their deadline;
// nothing is persisted across restarts.
//
// The cache is an explicitly owned object injected into its user, with a
// replaceable clock so expiry behavior is testable without sleeping.
package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Cache is a concurrency-safe string-keyed TTL cache.
//
// Concurrent writers to the same key are last-writer-wins; the cache itself
// never coalesces lookups that miss simultaneously.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	clock   Clock
}

type entry[V any] struct {
	value    V
	deadline time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces the cache's time source.
func WithClock[V any](clock Clock) Option[V] {
	return func(c *Cache[V]) {
		c.clock = clock
	}
}

// New creates an empty cache using the real time by default.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries: map[string]entry[V]{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value stored under key. An entry past its TTL is
// removed on the spot and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !c.clock().Before(e.deadline) {
		c.mu.Lock()
		// Re-check under the write lock: another goroutine may have stored a
		// fresh entry since the read.
		if cur, still := c.entries[key]; still && !c.clock().Before(cur.deadline) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for the given TTL, replacing any previous
// entry. A non-positive TTL stores nothing.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, deadline: c.clock().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes the entry under key, if any.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, counting expired ones not yet
// lazily evicted.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
