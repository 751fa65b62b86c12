package emit

import (
	"context"
	"sync"
)

// BufferedEmitter stores events in memory, keyed by session id, for tests
// and short-lived monitoring.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// NewBufferedEmitter returns an empty BufferedEmitter. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.SessionID] = append(b.events[event.SessionID], event)
}

func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range events {
		b.events[e.SessionID] = append(b.events[e.SessionID], e)
	}
	return nil
}

// Flush is a no-op: BufferedEmitter holds events until explicitly cleared.
func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of the recorded events for a session.
func (b *BufferedEmitter) History(sessionID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.events[sessionID]))
	copy(out, b.events[sessionID])
	return out
}

// Clear discards recorded events for a session.
func (b *BufferedEmitter) Clear(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, sessionID)
}
