// Package ratelimit bounds how often event-driven work may run.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/netstate/internal/clock"
)

// Limiter manages rate limiting for multiple keys
type Limiter struct {
	limiters map[string]*bucket
	mu       sync.Mutex
	clock    clock.Clock
}

// bucket implements a fixed-window token bucket
type bucket struct {
	tokens   int
	limit    int
	interval time.Duration
	lastFill time.Time
}

// NewLimiter creates a rate limiter. A nil clk uses the wall clock.
func NewLimiter(clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real
	}
	return &Limiter{
		limiters: make(map[string]*bucket),
		clock:    clk,
	}
}

// Allow reports whether one more event for key fits in limit events per
// interval, and counts it when it does.
func (l *Limiter) Allow(key string, limit int, interval time.Duration) bool {
	return l.AllowN(key, limit, interval, 1)
}

// AllowN is Allow for n events at once.
func (l *Limiter) AllowN(key string, limit int, interval time.Duration, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, exists := l.limiters[key]
	if !exists {
		b = &bucket{tokens: limit, limit: limit, interval: interval, lastFill: now}
		l.limiters[key] = b
	}

	if now.Sub(b.lastFill) >= b.interval {
		b.tokens = b.limit
		b.lastFill = now
	}
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Reset clears rate limit for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}
