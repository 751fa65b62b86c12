// Package ratelimit implements the per-tool token bucket described in
// spec.md §4.3, grounded on original_source/ai/graph/bridge.py's
// `_acquire_rate` replenish-on-read formula.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRate is the default tokens/sec when a tool has no configured
	// rate.
	DefaultRate = 5.0
)

// Bucket is the persisted state for one tool's rate limit.
type Bucket struct {
	Tokens        float64
	LastUpdatedAt time.Time
}

// Limiter serializes access to one tool's bucket per call and blocks the
// caller (via a sleep, not a busy loop) until a token is available.
//
// Limiter is the in-process limiter; SQLiteStore (sqlite.go) is the durable, possibly
// shared-across-processes version of the same bucket.
type Limiter struct {
	mu      sync.Mutex
	rate    float64
	bucket  Bucket
	sleeper func(time.Duration)
}

// NewLimiter returns a Limiter with the given tokens/sec rate (capacity
// equals rate, per spec.md §4.3). A zero rate defaults to DefaultRate.
func NewLimiter(rate float64) *Limiter {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Limiter{
		rate:    rate,
		bucket:  Bucket{Tokens: rate, LastUpdatedAt: time.Now()},
		sleeper: time.Sleep,
	}
}

// Acquire blocks until one token is available, replenishing the bucket by
// elapsed-time × rate on every attempt, then decrements and returns.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(l.bucket.LastUpdatedAt).Seconds()
		l.bucket.Tokens = min(l.rate, l.bucket.Tokens+elapsed*l.rate)
		l.bucket.LastUpdatedAt = now

		if l.bucket.Tokens >= 1 {
			l.bucket.Tokens--
			l.mu.Unlock()
			return nil
		}
		wait := (1 - l.bucket.Tokens) / l.rate
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		l.sleeper(time.Duration(wait * float64(time.Second)))
	}
}
