// Package resilience provides the failure-detection wrapper the adapters put
// around calls to shared infrastructure.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without touching the wrapped call while the breaker is
// cooling down after repeated failures.
var ErrOpen = errors.New("breaker open")

// Breaker counts consecutive failures and, once threshold is reached, rejects
// calls for the cooldown period. The first call after the cooldown is let
// through as a probe: success closes the breaker, failure re-arms it for
// another full cooldown. A threshold of zero disables the breaker entirely.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	clock     func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// NewBreaker returns a breaker that opens after threshold consecutive
// failures and stays open for cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Do invokes fn unless the breaker is open. The error from fn is returned
// unchanged so callers keep their usual error handling.
func (b *Breaker) Do(fn func() error) error {
	if b == nil || b.threshold <= 0 {
		return fn()
	}

	b.mu.Lock()
	if !b.openUntil.IsZero() && b.clock().Before(b.openUntil) {
		b.mu.Unlock()
		return ErrOpen
	}
	probing := !b.openUntil.IsZero()
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.openUntil = time.Time{}
		return nil
	}
	b.failures++
	if probing || b.failures >= b.threshold {
		b.openUntil = b.clock().Add(b.cooldown)
	}
	return err
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	if b == nil || b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.clock().Before(b.openUntil)
}
