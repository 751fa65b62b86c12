// Package nodes implements the four node kinds of the orchestrator's state
// machine: Planner, Decider, Executor and Reporter. Each is a pure
// transform over a session.State plus side effects scoped to its own
// collaborators (the schema-aware planner, the bridge-backed executor).
package nodes

import (
	"context"

	"github.com/zerobranding/orchestrator/internal/session"
)

// Signal is the Decider's routing vote. Planner, Executor and Reporter
// leave it empty; the graph runtime's edge table only branches on it after
// a Decider tick.
type Signal string

const (
	// SignalWork means a plan item was selected and the Executor should run.
	SignalWork Signal = "work"
	// SignalWait means no step is currently runnable (e.g. GPU slots full);
	// the tick produced no progress and the Decider should be consulted
	// again without advancing current_step.
	SignalWait Signal = "wait"
	// SignalStopReport means the run is done (successfully or not) and
	// should produce a terminal report.
	SignalStopReport Signal = "stop-report"
	// SignalStopEnd means the run should terminate without a report, e.g.
	// because a critical error was recorded.
	SignalStopEnd Signal = "stop-end"
)

// Result is what a node produces for one tick: the next state and, for the
// Decider, a routing Signal. Err is a node-level failure distinct from a
// recorded session.ErrorRecord: it means the node itself could not run, not
// that a plan item failed.
type Result struct {
	State  session.State
	Signal Signal
	Err    error

	// Report is set only by the Reporter node: the terminal summary for
	// the caller. Every other node leaves it nil.
	Report *Report
}

// Node is one step of the state machine.
type Node interface {
	// Name identifies the node kind for events and the edge table.
	Name() string
	Run(ctx context.Context, state session.State) Result
}

// Func adapts a plain function to the Node interface.
type Func struct {
	NodeName string
	Fn       func(ctx context.Context, state session.State) Result
}

func (f Func) Name() string { return f.NodeName }

func (f Func) Run(ctx context.Context, state session.State) Result {
	return f.Fn(ctx, state)
}
