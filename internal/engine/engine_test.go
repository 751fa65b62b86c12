package engine

import (
	"context"
	"testing"

	"github.com/zerobranding/orchestrator/internal/checkpoint"
	"github.com/zerobranding/orchestrator/internal/nodes"
	"github.com/zerobranding/orchestrator/internal/session"
)

func newTestStore(t *testing.T) checkpoint.Store {
	t.Helper()
	st, err := checkpoint.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return st
}

func TestEngine_StartRunsPlannerDeciderReporterToCompletion(t *testing.T) {
	store := newTestStore(t)

	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Plan = []session.PlanItem{{ID: "a", Action: "txt2img", Status: session.ItemCompleted}}
		s.Status = session.StatusExecuting
		return nodes.Result{State: s}
	}}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Status = session.StatusCompleted
		return nodes.Result{State: s, Signal: nodes.SignalStopReport}
	}}
	reporter := nodes.Func{NodeName: NodeReporter, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s, Report: &nodes.Report{SessionID: s.SessionID, Succeeded: true}}
	}}
	executor := nodes.Func{NodeName: NodeExecutor, Fn: func(ctx context.Context, s session.State) nodes.Result {
		t.Fatal("executor should not run in this scenario")
		return nodes.Result{}
	}}

	eng := New(planner, decider, executor, reporter, store)
	result, err := eng.Start(context.Background(), "s1", "/img cat", session.UserContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Report == nil || !result.Report.Succeeded {
		t.Fatalf("expected a succeeded report, got %+v", result.Report)
	}
	if result.State.Status != session.StatusCompleted {
		t.Errorf("expected completed status, got %v", result.State.Status)
	}
}

func TestEngine_WorkSignalRoutesToExecutorThenBackToDecider(t *testing.T) {
	store := newTestStore(t)

	ticks := 0
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Plan = []session.PlanItem{{ID: "a", Action: "txt2img", Status: session.ItemPending}}
		return nodes.Result{State: s}
	}}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		ticks++
		if s.Plan[0].Status == session.ItemCompleted {
			s.Status = session.StatusCompleted
			return nodes.Result{State: s, Signal: nodes.SignalStopReport}
		}
		s.NextItemID = "a"
		return nodes.Result{State: s, Signal: nodes.SignalWork}
	}}
	executor := nodes.Func{NodeName: NodeExecutor, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Plan[0].Status = session.ItemCompleted
		s.CurrentStep++
		s.NextItemID = ""
		return nodes.Result{State: s}
	}}
	reporter := nodes.Func{NodeName: NodeReporter, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s, Report: &nodes.Report{SessionID: s.SessionID, Succeeded: true}}
	}}

	eng := New(planner, decider, executor, reporter, store)
	result, err := eng.Start(context.Background(), "s2", "/img cat", session.UserContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticks != 2 {
		t.Errorf("expected decider dispatched twice (select, then confirm completion), got %d", ticks)
	}
	if result.State.CurrentStep != 1 {
		t.Errorf("expected current_step advanced to 1, got %d", result.State.CurrentStep)
	}
}

func TestEngine_StopEndSkipsReporter(t *testing.T) {
	store := newTestStore(t)

	reporterRan := false
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s}
	}}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Status = session.StatusFailed
		return nodes.Result{State: s, Signal: nodes.SignalStopEnd}
	}}
	executor := nodes.Func{NodeName: NodeExecutor, Fn: func(ctx context.Context, s session.State) nodes.Result {
		t.Fatal("executor should not run")
		return nodes.Result{}
	}}
	reporter := nodes.Func{NodeName: NodeReporter, Fn: func(ctx context.Context, s session.State) nodes.Result {
		reporterRan = true
		return nodes.Result{State: s}
	}}

	eng := New(planner, decider, executor, reporter, store)
	result, err := eng.Start(context.Background(), "s3", "goal", session.UserContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reporterRan {
		t.Error("expected stop-end to bypass the reporter")
	}
	if result.Report != nil {
		t.Error("expected no report on stop-end")
	}
}

func TestEngine_ResumeReturnsErrSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}
	eng := New(noop, noop, noop, noop, store)

	_, err := eng.Resume(context.Background(), "missing", nil)
	if err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEngine_ResumePicksUpAtPersistedNextNode(t *testing.T) {
	store := newTestStore(t)

	plannerRan := false
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		plannerRan = true
		return nodes.Result{State: s}
	}}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Status = session.StatusCompleted
		return nodes.Result{State: s, Signal: nodes.SignalStopReport}
	}}
	executor := nodes.Func{NodeName: NodeExecutor, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s}
	}}
	reporter := nodes.Func{NodeName: NodeReporter, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s, Report: &nodes.Report{SessionID: s.SessionID}}
	}}

	eng := New(planner, decider, executor, reporter, store)

	state := session.New("s4", session.UserContext{}, "goal", DefaultRetryBudget)
	state.NextNode = NodeDecider
	if err := store.Write(context.Background(), state); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	result, err := eng.Resume(context.Background(), "s4", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plannerRan {
		t.Error("expected resume to skip the planner and re-enter at decider")
	}
	if result.Report == nil {
		t.Fatal("expected a report from the resumed run")
	}
}

func TestEngine_CancelMarksSessionAndDeciderObservesIt(t *testing.T) {
	store := newTestStore(t)

	state := session.New("s5", session.UserContext{}, "goal", DefaultRetryBudget)
	state.NextNode = NodeDecider
	if err := store.Write(context.Background(), state); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	sawCancelled := false
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		sawCancelled = s.Cancelled
		s.Status = session.StatusCancelled
		return nodes.Result{State: s, Signal: nodes.SignalStopReport}
	}}
	executor := nodes.Func{NodeName: NodeExecutor, Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}
	reporter := nodes.Func{NodeName: NodeReporter, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s, Report: &nodes.Report{SessionID: s.SessionID}}
	}}

	eng := New(planner, decider, executor, reporter, store)

	ok, err := eng.Cancel(context.Background(), "s5")
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, err)
	}

	if _, err := eng.Resume(context.Background(), "s5", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawCancelled {
		t.Error("expected decider to observe state.Cancelled=true")
	}
}

func TestEngine_CancelUnknownSessionReturnsFalse(t *testing.T) {
	store := newTestStore(t)
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}
	eng := New(noop, noop, noop, noop, store)

	ok, err := eng.Cancel(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected (false, nil) for unknown session, got (%v, %v)", ok, err)
	}
}

func TestEngine_StateReturnsPersistedSnapshot(t *testing.T) {
	store := newTestStore(t)
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Status = session.StatusCompleted
		return nodes.Result{State: s, Signal: nodes.SignalStopEnd}
	}}
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}

	eng := New(planner, noop, noop, noop, store)
	if _, err := eng.Start(context.Background(), "s6", "goal", session.UserContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, found, err := eng.State(context.Background(), "s6")
	if err != nil || !found {
		t.Fatalf("expected to find persisted state, err=%v found=%v", err, found)
	}
	if got.Status != session.StatusCompleted {
		t.Errorf("expected completed status, got %v", got.Status)
	}
}

func TestEngine_StallsOnRepeatedWaitWithoutProgress(t *testing.T) {
	store := newTestStore(t)
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		return nodes.Result{State: s, Signal: nodes.SignalWait}
	}}
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}

	eng := New(planner, decider, noop, noop, store)
	_, err := eng.Start(context.Background(), "s7", "goal", session.UserContext{})
	if err != ErrNoProgress {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}
