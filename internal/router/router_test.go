package router

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/model/mock"
	"github.com/zerobranding/orchestrator/internal/orcherr"
)

func newTestRouter(opts ...Option) *Router {
	base := []Option{
		withSleeper(func(time.Duration) {}),
		WithRNG(rand.New(rand.NewSource(1))),
	}
	return New(append(base, opts...)...)
}

func TestRouter_PrimarySucceedsFirstAttempt(t *testing.T) {
	r := newTestRouter()
	primary := &mock.ChatModel{Responses: []model.ChatOut{{Text: "ok"}}}
	r.RegisterBackend("primary", primary)
	r.RegisterRole("chat", RoleConfig{Primary: ModelSpec{Provider: "primary"}})

	out, err := r.Invoke(context.Background(), "chat", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("expected text %q, got %q", "ok", out.Text)
	}
	if primary.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", primary.CallCount())
	}
}

func TestRouter_FallbackCascade(t *testing.T) {
	r := newTestRouter(WithRetry(3, 2.0, time.Millisecond))
	primary := &mock.ChatModel{Err: errors.New("boom")}
	secondary := &mock.ChatModel{Responses: []model.ChatOut{{Text: "ok"}}}
	r.RegisterBackend("primary", primary)
	r.RegisterBackend("secondary", secondary)
	r.RegisterRole("chat", RoleConfig{
		Primary:  ModelSpec{Provider: "primary"},
		Fallback: []ModelSpec{{Provider: "secondary"}},
	})

	out, err := r.Invoke(context.Background(), "chat", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("expected fallback text %q, got %q", "ok", out.Text)
	}
	if primary.CallCount() != 3 {
		t.Errorf("expected primary attempted max_attempts=3 times, got %d", primary.CallCount())
	}
	if secondary.CallCount() != 1 {
		t.Errorf("expected secondary invoked once, got %d", secondary.CallCount())
	}
}

func TestRouter_AllFallbacksFailed(t *testing.T) {
	r := newTestRouter(WithRetry(2, 2.0, time.Millisecond))
	primary := &mock.ChatModel{Err: errors.New("boom")}
	secondary := &mock.ChatModel{Err: errors.New("also boom")}
	r.RegisterBackend("primary", primary)
	r.RegisterBackend("secondary", secondary)
	r.RegisterRole("chat", RoleConfig{
		Primary:  ModelSpec{Provider: "primary"},
		Fallback: []ModelSpec{{Provider: "secondary"}},
	})

	_, err := r.Invoke(context.Background(), "chat", nil, nil)
	if !IsAllFallbacksFailed(err) {
		t.Fatalf("expected AllFallbacksFailedError, got %v", err)
	}
}

func TestRouter_CircuitOpenSkipsToNextLevelImmediately(t *testing.T) {
	r := newTestRouter(WithRetry(1, 2.0, time.Millisecond))
	primary := &mock.ChatModel{Err: errors.New("boom")}
	secondary := &mock.ChatModel{Responses: []model.ChatOut{{Text: "ok"}}}
	r.RegisterBackend("primary", primary)
	r.RegisterBackend("secondary", secondary)
	r.RegisterRole("chat", RoleConfig{
		Primary:  ModelSpec{Provider: "primary"},
		Fallback: []ModelSpec{{Provider: "secondary"}},
	})

	for i := 0; i < 5; i++ {
		r.Invoke(context.Background(), "chat", nil, nil)
	}
	if primary.CallCount() != 5 {
		t.Fatalf("expected breaker to trip after 5 consecutive failures, got %d calls", primary.CallCount())
	}

	secondary.Reset()
	out, err := r.Invoke(context.Background(), "chat", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("expected fallback response, got %q", out.Text)
	}
	if primary.CallCount() != 5 {
		t.Errorf("expected no further primary calls once breaker tripped, got %d", primary.CallCount())
	}
}

func TestRouter_WithBreakerConfigAppliesToBreakersCreatedByRegisterBackend(t *testing.T) {
	r := newTestRouter(WithRetry(1, 2.0, time.Millisecond), WithBreakerConfig(2, time.Minute))
	primary := &mock.ChatModel{Err: errors.New("boom")}
	secondary := &mock.ChatModel{Responses: []model.ChatOut{{Text: "ok"}}}
	r.RegisterBackend("primary", primary)
	r.RegisterBackend("secondary", secondary)
	r.RegisterRole("chat", RoleConfig{
		Primary:  ModelSpec{Provider: "primary"},
		Fallback: []ModelSpec{{Provider: "secondary"}},
	})

	for i := 0; i < 2; i++ {
		r.Invoke(context.Background(), "chat", nil, nil)
	}
	if primary.CallCount() != 2 {
		t.Fatalf("expected breaker configured with failure_threshold=2 to trip after 2 failures, got %d calls", primary.CallCount())
	}

	secondary.Reset()
	out, err := r.Invoke(context.Background(), "chat", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "ok" {
		t.Errorf("expected fallback response, got %q", out.Text)
	}
	if primary.CallCount() != 2 {
		t.Errorf("expected breaker registered by RegisterBackend to have tripped using the configured threshold, not the package default of 5, got %d primary calls", primary.CallCount())
	}
}

func TestRouter_CostOptimizedPolicyPrefersDeepestFallbackFirst(t *testing.T) {
	r := newTestRouter(WithPolicy(PolicyCostOptimized))
	primary := &mock.ChatModel{Responses: []model.ChatOut{{Text: "primary"}}}
	fallback := &mock.ChatModel{Responses: []model.ChatOut{{Text: "fallback"}}}
	r.RegisterBackend("primary", primary)
	r.RegisterBackend("fallback", fallback)
	r.RegisterRole("chat", RoleConfig{
		Primary:  ModelSpec{Provider: "primary"},
		Fallback: []ModelSpec{{Provider: "fallback"}},
	})

	out, err := r.Invoke(context.Background(), "chat", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "fallback" {
		t.Errorf("expected cost-optimized policy to try deepest fallback first, got %q", out.Text)
	}
	if primary.CallCount() != 0 {
		t.Errorf("expected primary untouched, got %d calls", primary.CallCount())
	}
}

func TestRouter_SpeedOptimizedPolicyPrefersLocalProvider(t *testing.T) {
	r := newTestRouter(WithPolicy(PolicySpeedOptimized))
	remote := &mock.ChatModel{Responses: []model.ChatOut{{Text: "remote"}}}
	local := &mock.ChatModel{Responses: []model.ChatOut{{Text: "local"}}}
	r.RegisterBackend("remote", remote)
	r.RegisterBackend("local", local)
	r.RegisterRole("chat", RoleConfig{
		Primary:  ModelSpec{Provider: "remote"},
		Fallback: []ModelSpec{{Provider: "local", Local: true}},
	})

	out, err := r.Invoke(context.Background(), "chat", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Text != "local" {
		t.Errorf("expected speed-optimized policy to prefer local provider, got %q", out.Text)
	}
	if remote.CallCount() != 0 {
		t.Errorf("expected remote untouched, got %d calls", remote.CallCount())
	}
}

func TestRouter_UnconfiguredRoleReturnsConfigurationError(t *testing.T) {
	r := newTestRouter()
	_, err := r.Invoke(context.Background(), "missing", nil, nil)
	if err == nil {
		t.Fatal("expected error for unconfigured role")
	}
	var oe *orcherr.Error
	if !errors.As(err, &oe) || oe.Kind != orcherr.Configuration {
		t.Errorf("expected a Configuration-kind error, got %v", err)
	}
}

func TestRouter_RespectsContextCancellation(t *testing.T) {
	r := newTestRouter()
	primary := &mock.ChatModel{Responses: []model.ChatOut{{Text: "ok"}}}
	r.RegisterBackend("primary", primary)
	r.RegisterRole("chat", RoleConfig{Primary: ModelSpec{Provider: "primary"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Invoke(ctx, "chat", nil, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}
