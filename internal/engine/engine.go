// Package engine implements the Graph Runtime (spec.md §4.9): a
// sequential dispatch loop over the four node kinds in internal/nodes,
// persisting state through internal/checkpoint after every node and
// routing by a fixed edge table instead of the teacher's general
// graph.Engine[S]/Edge[S] machinery.
//
// Grounded on _examples/dshills-langgraph-go/graph/engine.go's
// sequential execution path (the `for { ... }` loop in Run, before the
// concurrent-frontier branch) and original_source/ai/graph/core_graph.py's
// `_build_graph`/`_should_continue_execution`, which fix the same four
// nodes and the same edge shape this package hard-codes. The teacher's
// generic node registry (Engine[S].Add/StartAt/Connect) is not needed:
// SPEC_FULL.md never adds a fifth node kind or a runtime-configurable
// topology, so the edge table is a plain switch rather than a
// Predicate[S]-keyed []Edge[S] slice.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zerobranding/orchestrator/internal/checkpoint"
	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/nodes"
	"github.com/zerobranding/orchestrator/internal/orcherr"
	"github.com/zerobranding/orchestrator/internal/session"
)

// Node-kind names used as edge-table keys and persisted in
// session.State.NextNode. nodeTerminal is the empty string: a state
// whose NextNode is "" has reached the end of the graph.
const (
	NodePlanner  = "planner"
	NodeDecider  = "decider"
	NodeExecutor = "executor"
	NodeReporter = "reporter"

	nodeTerminal = ""
)

// DefaultRetryBudget is the session-wide retry allowance a freshly
// started session gets, matching decider.py's config fallback
// (`self.retry_budget = 10`).
const DefaultRetryBudget = 10

// maxStallTicks bounds how many consecutive no-progress decider→decider
// ("wait") hops are tolerated before the run is aborted. In a sequential
// engine a GPU slot only ever looks occupied because an earlier tick was
// interrupted mid-execution (e.g. process restart) and left an item
// "running"; nothing in-process will ever free it, so a handful of
// stalled ticks is enough to detect the condition rather than spin
// until MaxSteps.
const maxStallTicks = 3

// ErrSessionNotFound is returned by Resume when no checkpoint exists for
// the given session id; Cancel and State report that case as false instead.
var ErrSessionNotFound = errors.New("engine: session not found")

// ErrNoProgress is returned when the decider reports "wait" on the same
// current_step more than maxStallTicks times in a row: a degenerate plan
// that cannot make progress without a concurrent executor to free the
// resource it is waiting on.
var ErrNoProgress = errors.New("engine: no progress (stalled waiting on a resource)")

// RunResult is what Start and Resume return: the session's final
// persisted state, plus the Reporter's summary when the run reached the
// reporter node.
type RunResult struct {
	State  session.State
	Report *nodes.Report
}

// Engine dispatches the four node kinds through the fixed edge table of
// spec.md §4.9, persisting state via checkpoint.Store after each hop.
type Engine struct {
	planner  nodes.Node
	decider  nodes.Node
	executor nodes.Node
	reporter nodes.Node

	store   checkpoint.Store
	emitter emit.Emitter
	metrics *Metrics

	retryBudget int

	mu        sync.Mutex
	cancelled map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryBudget overrides DefaultRetryBudget for sessions started by
// this Engine.
func WithRetryBudget(n int) Option {
	return func(e *Engine) { e.retryBudget = n }
}

// WithEngineEmitter sets the Engine's own event emitter (node-level
// emitters are configured separately when constructing each node).
func WithEngineEmitter(em emit.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithMetrics attaches Prometheus instrumentation. Without this option
// the engine records nothing; Metrics' methods are all nil-receiver-safe
// so passing nil here is equivalent to omitting the option.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine over the four node kinds and a checkpoint
// store. planner/decider/executor/reporter are accepted as the nodes.Node
// interface (rather than concrete *nodes.Planner etc.) so tests can
// substitute fakes without touching the real node implementations.
func New(planner, decider, executor, reporter nodes.Node, store checkpoint.Store, opts ...Option) *Engine {
	e := &Engine{
		planner:     planner,
		decider:     decider,
		executor:    executor,
		reporter:    reporter,
		store:       store,
		emitter:     emit.NewNullEmitter(),
		retryBudget: DefaultRetryBudget,
		cancelled:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins a new session from a goal and user context. If sessionID
// is empty, session.New mints one. Execution enters at the Planner.
func (e *Engine) Start(ctx context.Context, sessionID string, goal string, user session.UserContext) (RunResult, error) {
	state := session.New(sessionID, user, goal, e.retryBudget)
	state.NextNode = NodePlanner
	return e.runLoop(ctx, state)
}

// Resume re-enters a session at the node recorded by its last persisted
// tick. extraContext is attached to the run as an observability event
// only: spec.md leaves its structure open, and nothing downstream of the
// Planner currently consumes mid-run context edits, so a resumed run
// that needs replanning should start a fresh session instead.
func (e *Engine) Resume(ctx context.Context, sessionID string, extraContext map[string]interface{}) (RunResult, error) {
	state, found, err := e.store.Read(ctx, sessionID)
	if err != nil {
		return RunResult{}, fmt.Errorf("engine: resume: %w", err)
	}
	if !found {
		return RunResult{}, ErrSessionNotFound
	}
	if state.Terminal() {
		return RunResult{State: state}, nil
	}
	if len(extraContext) > 0 {
		e.emitter.Emit(emit.Event{SessionID: sessionID, Msg: "resume_extra_context", Meta: extraContext})
	}
	if state.NextNode == nodeTerminal {
		// A non-terminal session with no recorded next node: the
		// checkpoint predates this field. Re-enter at the decider, which
		// re-derives the next step from the plan rather than assuming one.
		state.NextNode = NodeDecider
	}
	return e.runLoop(ctx, state)
}

// Cancel marks a session cancelled. The cancellation is recorded
// in-memory for any engine instance currently ticking that session (it
// is consulted at the top of every loop iteration, i.e. before the next
// decider dispatch, per spec.md's "observed at the next decider tick")
// and is also persisted so a process restart still sees it on resume.
// Returns false if no checkpoint exists for the session.
func (e *Engine) Cancel(ctx context.Context, sessionID string) (bool, error) {
	state, found, err := e.store.Read(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("engine: cancel: %w", err)
	}
	if !found {
		return false, nil
	}

	e.mu.Lock()
	e.cancelled[sessionID] = true
	e.mu.Unlock()

	if state.Terminal() {
		return true, nil
	}
	state.Cancelled = true
	if err := e.store.Write(ctx, state); err != nil {
		return false, fmt.Errorf("engine: cancel: persist: %w", err)
	}
	return true, nil
}

// State returns the latest persisted state for a session, or found=false
// if no checkpoint exists.
func (e *Engine) State(ctx context.Context, sessionID string) (session.State, bool, error) {
	return e.store.Read(ctx, sessionID)
}

// runLoop is the dispatch loop shared by Start and Resume: dispatch the
// node named state.NextNode, persist the result, compute the next node
// from the edge table, repeat until the next node is terminal.
func (e *Engine) runLoop(ctx context.Context, state session.State) (RunResult, error) {
	stallStep := -1
	stallCount := 0

	for {
		select {
		case <-ctx.Done():
			return RunResult{State: state}, ctx.Err()
		default:
		}

		e.mu.Lock()
		if e.cancelled[state.SessionID] {
			state.Cancelled = true
		}
		e.mu.Unlock()

		nodeName := state.NextNode
		node, err := e.nodeByName(nodeName)
		if err != nil {
			return RunResult{State: state}, err
		}

		itemBefore := state.NextItemID
		dispatchStart := time.Now()
		result := node.Run(ctx, state)
		status := "ok"
		if result.Err != nil {
			status = "error"
		}
		e.metrics.recordStepLatency(state.SessionID, nodeName, time.Since(dispatchStart), status)
		if result.Err != nil {
			return RunResult{State: state}, fmt.Errorf("engine: node %q: %w", nodeName, result.Err)
		}
		state = result.State

		if nodeName == NodeExecutor && itemBefore != "" {
			if item, ok := state.ItemByID()[itemBefore]; ok && item.Status == session.ItemFailed {
				e.metrics.incrementRetries(state.SessionID, item.Action)
			}
		}
		if nodeName == NodeDecider && result.Signal == nodes.SignalWait {
			e.metrics.incrementGPUWait(state.SessionID)
		}

		next := e.nextNode(nodeName, result.Signal)
		state.NextNode = next

		if err := e.store.Write(ctx, state); err != nil {
			return RunResult{State: state}, fmt.Errorf("engine: persist after %q: %w", nodeName, err)
		}
		e.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: nodeName, Msg: "node_end", Meta: map[string]interface{}{"next": next}})

		if nodeName == NodeDecider && next == NodeDecider {
			if state.CurrentStep == stallStep {
				stallCount++
				if stallCount > maxStallTicks {
					return RunResult{State: state}, ErrNoProgress
				}
			} else {
				stallStep = state.CurrentStep
				stallCount = 0
			}
		}

		if next == nodeTerminal {
			if result.Report != nil {
				return RunResult{State: state, Report: result.Report}, nil
			}
			return RunResult{State: state}, nil
		}
	}
}

// nextNode implements spec.md §4.9's edge table.
func (e *Engine) nextNode(from string, signal nodes.Signal) string {
	switch from {
	case NodePlanner:
		return NodeDecider
	case NodeDecider:
		switch signal {
		case nodes.SignalWork:
			return NodeExecutor
		case nodes.SignalStopReport:
			return NodeReporter
		case nodes.SignalStopEnd:
			return nodeTerminal
		case nodes.SignalWait:
			return NodeDecider
		default:
			return NodeReporter
		}
	case NodeExecutor:
		return NodeDecider
	case NodeReporter:
		return nodeTerminal
	default:
		return nodeTerminal
	}
}

func (e *Engine) nodeByName(name string) (nodes.Node, error) {
	switch name {
	case NodePlanner:
		return e.planner, nil
	case NodeDecider:
		return e.decider, nil
	case NodeExecutor:
		return e.executor, nil
	case NodeReporter:
		return e.reporter, nil
	default:
		return nil, orcherr.New(orcherr.Critical, "NODE_NOT_FOUND", "engine: unknown node: "+name)
	}
}
