// Package breaker implements the per-backend circuit breaker from
// spec.md §4.4, grounded on original_source/ai/adapters/router.py's
// `_CircuitBreaker` (closed/open/half-open, asyncio-locked admission),
// translated to a sync.Mutex-guarded Go struct.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's three-state machine.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that trips
	// the breaker open.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long the breaker stays open before
	// admitting a single half-open probe.
	DefaultResetTimeout = 30 * time.Second
)

// ErrShortCircuit is returned by Allow when the breaker is open and not yet
// eligible for a probe.
type ErrShortCircuit struct{ Backend string }

func (e *ErrShortCircuit) Error() string {
	return "circuit breaker open for backend " + e.Backend
}

// Breaker is a single backend's circuit breaker. The admission decision and
// any resulting state transition are one atomic critical section, guarded
// by mu.
type Breaker struct {
	mu sync.Mutex

	backend          string
	failureThreshold int
	resetTimeout     time.Duration

	state           State
	consecutiveFail int
	openedAt        time.Time
	probeInFlight   bool

	now func() time.Time
}

// New returns a closed Breaker for backend, using the given thresholds (0
// values fall back to the spec's defaults).
func New(backend string, failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		backend:          backend,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            Closed,
		now:              time.Now,
	}
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow decides whether a request may proceed. In closed state it always
// admits. In open state it admits exactly one probe once resetTimeout has
// elapsed since opening (transitioning to half-open), and short-circuits
// otherwise. In half-open state it admits nothing further until the
// in-flight probe resolves via AfterSuccess/AfterFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return &ErrShortCircuit{Backend: b.backend}
		}
		b.state = HalfOpen
		b.probeInFlight = true
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return &ErrShortCircuit{Backend: b.backend}
		}
		b.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// AfterSuccess records a successful call: closes the breaker and resets the
// failure counter.
func (b *Breaker) AfterSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFail = 0
	b.probeInFlight = false
}

// AfterFailure records a failed call: in closed state, increments the
// counter and trips open at the threshold; in half-open state, reopens
// immediately and resets the open timestamp.
func (b *Breaker) AfterFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = b.now()
		b.consecutiveFail = b.failureThreshold
	case Closed:
		b.consecutiveFail++
		if b.consecutiveFail >= b.failureThreshold {
			b.state = Open
			b.openedAt = b.now()
		}
	}
}
