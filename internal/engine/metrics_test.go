package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/zerobranding/orchestrator/internal/nodes"
	"github.com/zerobranding/orchestrator/internal/session"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	c.Collect(ch)
	close(ch)
	var total float64
	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("write metric: %v", err)
		}
		if pb.Counter != nil {
			total += pb.Counter.GetValue()
		}
	}
	return total
}

func TestMetrics_RecordsGPUWaitOnDeciderWaitSignal(t *testing.T) {
	store := newTestStore(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	waits := 0
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		waits++
		if waits > 2 {
			s.Status = session.StatusFailed
			return nodes.Result{State: s, Signal: nodes.SignalStopEnd}
		}
		return nodes.Result{State: s, Signal: nodes.SignalWait}
	}}
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}

	eng := New(planner, decider, noop, noop, store, WithMetrics(metrics))
	if _, err := eng.Start(context.Background(), "m1", "goal", session.UserContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := counterValue(t, metrics.gpuWait)
	if got != 2 {
		t.Errorf("expected 2 recorded gpu-wait ticks, got %v", got)
	}
}

func TestMetrics_RecordsRetryOnExecutorFailure(t *testing.T) {
	store := newTestStore(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	tick := 0
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Plan = []session.PlanItem{{ID: "a", Action: "txt2img", Status: session.ItemPending}}
		return nodes.Result{State: s}
	}}
	decider := nodes.Func{NodeName: NodeDecider, Fn: func(ctx context.Context, s session.State) nodes.Result {
		tick++
		if tick > 1 {
			s.Status = session.StatusFailed
			return nodes.Result{State: s, Signal: nodes.SignalStopEnd}
		}
		s.NextItemID = "a"
		return nodes.Result{State: s, Signal: nodes.SignalWork}
	}}
	executor := nodes.Func{NodeName: NodeExecutor, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Plan[0].Status = session.ItemFailed
		s.NextItemID = ""
		return nodes.Result{State: s}
	}}
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}

	eng := New(planner, decider, executor, noop, store, WithMetrics(metrics))
	if _, err := eng.Start(context.Background(), "m2", "goal", session.UserContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := counterValue(t, metrics.retries)
	if got != 1 {
		t.Errorf("expected 1 recorded retry, got %v", got)
	}
}

func TestMetrics_NilMetricsIsSafeToUse(t *testing.T) {
	store := newTestStore(t)
	planner := nodes.Func{NodeName: NodePlanner, Fn: func(ctx context.Context, s session.State) nodes.Result {
		s.Status = session.StatusCompleted
		return nodes.Result{State: s, Signal: nodes.SignalStopEnd}
	}}
	noop := nodes.Func{NodeName: "noop", Fn: func(ctx context.Context, s session.State) nodes.Result { return nodes.Result{State: s} }}

	eng := New(planner, noop, noop, noop, store)
	if _, err := eng.Start(context.Background(), "m3", "goal", session.UserContext{}); err != nil {
		t.Fatalf("unexpected error with no metrics configured: %v", err)
	}
}
