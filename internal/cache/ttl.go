package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	timestamp   time.Time
	value       V
	ttlOverride time.Duration // 0 means use the reader's default
}

// TTL is a key/value store with per-entry expiry. Stale entries are evicted
// when read; there is no background sweep.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates an empty cache using the wall clock.
func New[V any]() *TTL[V] {
	return NewWithClock[V](time.Now)
}

// NewWithClock creates an empty cache driven by the given clock.
func NewWithClock[V any](now func() time.Time) *TTL[V] {
	return &TTL[V]{entries: make(map[string]entry[V]), now: now}
}

// Get returns the value stored under key if it is still valid. An entry is
// valid iff now - timestamp <= (override ?? defaultTTL).
func (c *TTL[V]) Get(key string, defaultTTL time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	ttl := defaultTTL
	if e.ttlOverride > 0 {
		ttl = e.ttlOverride
	}
	if c.now().Sub(e.timestamp) > ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry. An optional
// override replaces the reader's default TTL for this entry only.
func (c *TTL[V]) Set(key string, value V, ttlOverride ...time.Duration) {
	var override time.Duration
	if len(ttlOverride) > 0 {
		override = ttlOverride[0]
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{timestamp: c.now(), value: value, ttlOverride: override}
	c.mu.Unlock()
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, stale ones included.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
