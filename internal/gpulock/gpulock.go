// Package gpulock implements the GPU Fair-Lock from spec.md §4.5: a
// family-indexed FIFO mutual-exclusion lock with a minimum fairness window
// between successive grants.
//
// Grounded on original_source/ai/graph/gpu_lock.py's `_FamilyLock`
// (asyncio FIFO queue + `_maybe_grant`), translated from
// asyncio.Future/asyncio.Lock to Go channels and a sync.Mutex.
package gpulock

import (
	"context"
	"sync"
	"time"
)

// DefaultFairnessWindow is the minimum time between successive grants of a
// family's lock, guarding against a fast-cycling session starving others.
const DefaultFairnessWindow = 50 * time.Millisecond

type waiter struct {
	sessionID string
	granted   chan struct{}
}

// familyLock serializes access to one GPU family.
type familyLock struct {
	mu             sync.Mutex
	fairnessWindow time.Duration
	queue          []*waiter
	holder         string
	holderAt       time.Time
	hasHolder      bool
	now            func() time.Time
}

func newFamilyLock(window time.Duration) *familyLock {
	if window <= 0 {
		window = DefaultFairnessWindow
	}
	return &familyLock{fairnessWindow: window, now: time.Now}
}

// maybeGrant releases the head waiter iff there is no holder and at least
// fairnessWindow has elapsed since the previous holder acquired. Assumes
// f.mu is already held by the caller (enqueue, release, recheck).
//
// If the window hasn't elapsed yet, the head waiter stays queued and a
// timer is armed to re-run this check once it has — otherwise a waiter
// queued while the window was still open would never be reconsidered,
// since nothing but enqueue/release triggers a grant attempt.
func (f *familyLock) maybeGrant() {
	if f.hasHolder || len(f.queue) == 0 {
		return
	}
	if !f.holderAt.IsZero() {
		if remaining := f.fairnessWindow - f.now().Sub(f.holderAt); remaining > 0 {
			time.AfterFunc(remaining, f.recheck)
			return
		}
	}
	head := f.queue[0]
	f.queue = f.queue[1:]
	f.hasHolder = true
	f.holder = head.sessionID
	f.holderAt = f.now()
	close(head.granted)
}

// recheck re-runs maybeGrant from a timer goroutine, which holds no lock
// of its own yet — unlike maybeGrant's other callers, which already hold
// f.mu when they call it directly.
func (f *familyLock) recheck() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maybeGrant()
}

// enqueue appends a waiter and attempts an immediate grant.
func (f *familyLock) enqueue(sessionID string) *waiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &waiter{sessionID: sessionID, granted: make(chan struct{})}
	f.queue = append(f.queue, w)
	f.maybeGrant()
	return w
}

// release clears the holder and re-runs the grant procedure.
func (f *familyLock) release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasHolder && f.holder == sessionID {
		f.hasHolder = false
		f.holder = ""
	}
	f.maybeGrant()
}

// dequeue removes a still-waiting waiter (used on context cancellation).
func (f *familyLock) dequeue(w *waiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, q := range f.queue {
		if q == w {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return
		}
	}
}

// Registry holds one familyLock per GPU family name, created on demand.
type Registry struct {
	mu             sync.Mutex
	window         time.Duration
	families       map[string]*familyLock
}

// NewRegistry returns a Registry using fairnessWindow for every family (0
// falls back to DefaultFairnessWindow).
func NewRegistry(fairnessWindow time.Duration) *Registry {
	return &Registry{window: fairnessWindow, families: make(map[string]*familyLock)}
}

func (r *Registry) family(name string) *familyLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	fl, ok := r.families[name]
	if !ok {
		fl = newFamilyLock(r.window)
		r.families[name] = fl
	}
	return fl
}

// Handle represents a held lock; call Release to free it.
type Handle struct {
	family    *familyLock
	sessionID string
}

// Release frees the lock and re-runs the grant procedure for the next
// waiter in FIFO order.
func (h *Handle) Release() {
	h.family.release(h.sessionID)
}

// Acquire enqueues sessionID on family's FIFO queue and blocks until
// granted or ctx is done (cancelled or past its deadline); there is no
// separate timeout. FIFO guarantees ordering across sessions; the fairness
// window guarantees no session can immediately re-acquire ahead of waiters
// that had not yet enqueued.
func (r *Registry) Acquire(ctx context.Context, family, sessionID string) (*Handle, error) {
	fl := r.family(family)
	w := fl.enqueue(sessionID)

	select {
	case <-w.granted:
		return &Handle{family: fl, sessionID: sessionID}, nil
	case <-ctx.Done():
		fl.dequeue(w)
		return nil, ctx.Err()
	}
}
