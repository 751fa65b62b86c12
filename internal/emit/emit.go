// Package emit provides event emission and observability for orchestrator
// runs, in place of ad hoc logging calls scattered through internal/.
package emit

import "context"

// Event is an observability event emitted during session execution.
type Event struct {
	// SessionID identifies the run that produced this event.
	SessionID string

	// Step is the plan step index the event relates to, or 0 for
	// session-level events (start, complete, error).
	Step int

	// NodeID names the component that emitted the event, e.g. planner,
	// decider, executor, reporter, router, or bridge.
	NodeID string

	// Msg is a short machine-greppable description, e.g. "node_start",
	// "decide_wait", "step_failed", "run_key_cache_hit".
	Msg string

	// Meta carries event-specific structured fields (duration_ms, error,
	// tool, action, retry_count, ...).
	Meta map[string]interface{}
}

// Emitter receives observability events from session execution.
//
// Implementations must be non-blocking and thread-safe: Emit may be called
// concurrently from interleaved sessions and must never panic.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
