package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AcquireConsumesToken(t *testing.T) {
	l := NewLimiter(5)
	before := l.bucket.Tokens
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.bucket.Tokens != before-1 {
		t.Errorf("expected one token consumed, before=%v after=%v", before, l.bucket.Tokens)
	}
}

func TestLimiter_WaitsWhenExhausted(t *testing.T) {
	l := NewLimiter(1)
	l.bucket.Tokens = 0
	l.bucket.LastUpdatedAt = time.Now()

	var slept time.Duration
	l.sleeper = func(d time.Duration) {
		slept = d
		// Simulate time passing so the next loop iteration sees a
		// replenished bucket instead of sleeping forever in the test.
		l.bucket.LastUpdatedAt = l.bucket.LastUpdatedAt.Add(-2 * time.Second)
	}

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slept <= 0 {
		t.Errorf("expected Acquire to sleep when tokens exhausted")
	}
}

func TestLimiter_RespectsContextCancellation(t *testing.T) {
	l := NewLimiter(1)
	l.bucket.Tokens = 0
	l.sleeper = func(time.Duration) {} // never replenish meaningfully in this test

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx)
	if err == nil {
		t.Errorf("expected context cancellation error")
	}
}

func TestLimiter_DefaultRateAppliedForNonPositive(t *testing.T) {
	l := NewLimiter(0)
	if l.rate != DefaultRate {
		t.Errorf("expected default rate %v, got %v", DefaultRate, l.rate)
	}
}
