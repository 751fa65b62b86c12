package nodes

import (
	"context"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/session"
)

// DefaultMaxSteps bounds the number of ticks a session may take, guarding
// against degenerate plans that never converge.
const DefaultMaxSteps = 20

// DefaultMaxParallelGPU bounds how many GPU-bound items may be running at
// once across a session's plan.
const DefaultMaxParallelGPU = 1

// actionPriority is the tie-break table for otherwise-eligible pending
// items: lower value runs first.
var actionPriority = map[string]int{
	"txt2img":          1,
	"img2img":          1,
	"asr":              1,
	"tts":              1,
	"upscale":          2,
	"anim":             3,
	"upload_youtube":   4,
	"upload_tiktok":    4,
	"upload_instagram": 4,
}

const defaultActionPriority = 5

// Decider computes the next executable plan item, or decides the session is
// done.
type Decider struct {
	maxSteps       int
	maxParallelGPU int
	emitter        emit.Emitter
}

// DeciderOption configures a Decider.
type DeciderOption func(*Decider)

// WithMaxSteps overrides DefaultMaxSteps.
func WithMaxSteps(n int) DeciderOption {
	return func(d *Decider) { d.maxSteps = n }
}

// WithMaxParallelGPU overrides DefaultMaxParallelGPU.
func WithMaxParallelGPU(n int) DeciderOption {
	return func(d *Decider) { d.maxParallelGPU = n }
}

// WithDeciderEmitter sets the Decider's event emitter.
func WithDeciderEmitter(e emit.Emitter) DeciderOption {
	return func(d *Decider) { d.emitter = e }
}

// NewDecider constructs a Decider with spec defaults, overridden by opts.
func NewDecider(opts ...DeciderOption) *Decider {
	d := &Decider{
		maxSteps:       DefaultMaxSteps,
		maxParallelGPU: DefaultMaxParallelGPU,
		emitter:        emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decider) Name() string { return "decider" }

func (d *Decider) Run(ctx context.Context, state session.State) Result {
	if state.Cancelled && !state.Terminal() {
		state.Status = session.StatusCancelled
		d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_stop", Meta: map[string]interface{}{"reason": "cancelled by caller"}})
		return Result{State: state, Signal: SignalStopReport}
	}

	if done, failed, reason := d.checkCompletion(state); done {
		if failed {
			state.AddError(session.SeverityCritical, "", "session failed: "+reason, map[string]interface{}{"current_step": state.CurrentStep, "max_steps": d.maxSteps})
			d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_end", Meta: map[string]interface{}{"reason": reason}})
			return Result{State: state, Signal: SignalStopEnd}
		}
		state.Status = session.StatusCompleted
		if state.HasCriticalErrors() {
			d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_end", Meta: map[string]interface{}{"reason": reason}})
			return Result{State: state, Signal: SignalStopEnd}
		}
		d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_stop", Meta: map[string]interface{}{"reason": reason}})
		return Result{State: state, Signal: SignalStopReport}
	}

	if stop, reason := d.checkErrorConditions(state); stop {
		state.Status = session.StatusFailed
		if state.HasCriticalErrors() {
			d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_end", Meta: map[string]interface{}{"reason": reason}})
			return Result{State: state, Signal: SignalStopEnd}
		}
		d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_stop_failed", Meta: map[string]interface{}{"reason": reason}})
		return Result{State: state, Signal: SignalStopReport}
	}

	next := d.selectNextStep(state)
	if next == nil {
		state.Status = session.StatusCompleted
		d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_stop", Meta: map[string]interface{}{"reason": "no executable steps remaining"}})
		return Result{State: state, Signal: SignalStopReport}
	}

	if next.RequiresGPU && state.RunningGPUCount() >= d.maxParallelGPU {
		d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_wait", Meta: map[string]interface{}{"action": next.Action, "gpu_running": state.RunningGPUCount()}})
		return Result{State: state, Signal: SignalWait}
	}

	state.NextItemID = next.ID
	d.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: d.Name(), Msg: "decide_work", Meta: map[string]interface{}{"action": next.Action, "item_id": next.ID}})
	return Result{State: state, Signal: SignalWork}
}

// checkCompletion reports whether the session is done, and if so, whether
// that's a success (all items completed, or nothing to do) or a failure
// (the step budget ran out with work still pending). Hitting max_steps
// always means pending work remains: the "all plan items completed" check
// above it already returns first whenever nothing is left outstanding.
func (d *Decider) checkCompletion(state session.State) (done bool, failed bool, reason string) {
	if state.Status == session.StatusCompleted {
		return true, false, "workflow marked as completed"
	}
	if len(state.Plan) == 0 {
		return true, false, "no plan items to execute"
	}
	completed := 0
	for i := range state.Plan {
		if state.Plan[i].Status == session.ItemCompleted {
			completed++
		}
	}
	if completed == len(state.Plan) {
		return true, false, "all plan items completed"
	}
	if state.CurrentStep >= d.maxSteps {
		return true, true, "maximum steps reached with pending work"
	}
	return false, false, ""
}

func (d *Decider) checkErrorConditions(state session.State) (bool, string) {
	if state.Status == session.StatusFailed {
		return true, "workflow marked as failed"
	}
	if state.HasCriticalErrors() {
		return true, "critical errors present"
	}
	if state.Retries.Exhausted() {
		return true, "retry budget exhausted"
	}
	if state.FailedFraction() > 0.5 {
		return true, "too many failed steps"
	}
	return false, ""
}

func (d *Decider) selectNextStep(state session.State) *session.PlanItem {
	// Retry candidates first.
	for i := range state.Plan {
		item := &state.Plan[i]
		if item.Status == session.ItemFailed && item.RetryCount < item.MaxRetries {
			return item
		}
	}

	byID := state.ItemByID()
	var candidates []*session.PlanItem
	for i := range state.Plan {
		item := &state.Plan[i]
		if item.Status == session.ItemPending && item.DependenciesSatisfied(byID) {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	bestScore := stepPriority(best)
	for _, c := range candidates[1:] {
		if score := stepPriority(c); score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

func stepPriority(item *session.PlanItem) int {
	base, ok := actionPriority[item.Action]
	if !ok {
		base = defaultActionPriority
	}
	return base + 2*item.RetryCount
}
