// Package breaker implements a timed rate-limit circuit breaker: once tripped,
// the guarded provider is treated as unavailable until the cooldown lapses.
package breaker

import (
	"sync"
	"time"
)

// Breaker holds a single cooldown deadline.
type Breaker struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

// New creates a closed breaker. A nil clock uses time.Now.
func New(now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{now: now}
}

// Trip opens the breaker for d. A trip never shortens an existing cooldown.
func (b *Breaker) Trip(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if until := b.now().Add(d); until.After(b.until) {
		b.until = until
	}
}

// Tripped reports whether the cooldown is still running.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.until)
}

// Until returns the cooldown deadline; zero if never tripped.
func (b *Breaker) Until() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.until
}

// Reset closes the breaker immediately.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.until = time.Time{}
	b.mu.Unlock()
}
