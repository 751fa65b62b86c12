// Package router implements the provider routing layer (spec.md §4.6): a
// role-based primary+fallback cascade over internal/model.ChatModel
// backends, each wrapped in its own internal/breaker.Breaker, with
// exponential-backoff-plus-jitter retries per fallback level.
//
// Grounded on the original's adapters/router.py (_Router/_CircuitBreaker)
// translated to Go, and on the teacher's graph/policy.go computeBackoff
// shape for the retry/jitter arithmetic.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/zerobranding/orchestrator/internal/breaker"
	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// Policy selects the order in which fallback levels are attempted.
type Policy string

const (
	// PolicyComplexityBased visits levels in configured order: primary
	// first, then fallbacks in the order given. This is the default.
	PolicyComplexityBased Policy = "complexity-based"
	// PolicyCostOptimized visits the deepest (usually cheapest) fallback
	// first.
	PolicyCostOptimized Policy = "cost-optimized"
	// PolicySpeedOptimized visits local-provider entries first.
	PolicySpeedOptimized Policy = "speed-optimized"
)

const (
	DefaultMaxAttempts   = 3
	DefaultBackoffFactor = 2.0
	DefaultInitialDelay  = 500 * time.Millisecond
	jitterFraction       = 0.2
)

// ModelSpec names one candidate backend configuration for a role.
type ModelSpec struct {
	Provider     string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	// Local marks this candidate as a locally hosted provider, used by
	// PolicySpeedOptimized to prefer it over remote candidates.
	Local bool
}

// RoleConfig is the primary+fallback cascade configured for one role.
type RoleConfig struct {
	Primary  ModelSpec
	Fallback []ModelSpec
}

// AllFallbacksFailedError is returned when every level of a role's
// cascade has been exhausted without a successful response.
type AllFallbacksFailedError struct {
	Role string
}

func (e *AllFallbacksFailedError) Error() string {
	return fmt.Sprintf("router: all fallback levels exhausted for role %q", e.Role)
}

// Router dispatches ChatModel calls through a role's configured cascade.
type Router struct {
	roles    map[string]RoleConfig
	backends map[string]model.ChatModel
	breakers map[string]*breaker.Breaker

	policy        Policy
	maxAttempts   int
	backoffFactor float64
	initialDelay  time.Duration

	breakerFailureThreshold int
	breakerResetTimeout     time.Duration

	emitter emit.Emitter
	rng     *rand.Rand
	sleep   func(time.Duration)
}

// Option configures a Router at construction time.
type Option func(*Router)

func WithPolicy(p Policy) Option {
	return func(r *Router) { r.policy = p }
}

func WithRetry(maxAttempts int, backoffFactor float64, initialDelay time.Duration) Option {
	return func(r *Router) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
		if backoffFactor > 0 {
			r.backoffFactor = backoffFactor
		}
		if initialDelay > 0 {
			r.initialDelay = initialDelay
		}
	}
}

func WithEmitter(e emit.Emitter) Option {
	return func(r *Router) { r.emitter = e }
}

// WithBreakerConfig sets the failure threshold and reset timeout each
// per-provider breaker is created with (0 values fall back to
// internal/breaker's own spec defaults). Must be applied before any
// RegisterBackend call, since breakers are created eagerly at
// registration time.
func WithBreakerConfig(failureThreshold int, resetTimeout time.Duration) Option {
	return func(r *Router) {
		r.breakerFailureThreshold = failureThreshold
		r.breakerResetTimeout = resetTimeout
	}
}

// WithRNG overrides the jitter source; tests use a seeded *rand.Rand for
// determinism.
func WithRNG(rng *rand.Rand) Option {
	return func(r *Router) { r.rng = rng }
}

// withSleeper overrides the backoff sleep function; tests substitute a
// no-op to avoid real delays.
func withSleeper(sleep func(time.Duration)) Option {
	return func(r *Router) { r.sleep = sleep }
}

// New builds a Router with no roles or backends registered yet.
func New(opts ...Option) *Router {
	r := &Router{
		roles:         make(map[string]RoleConfig),
		backends:      make(map[string]model.ChatModel),
		breakers:      make(map[string]*breaker.Breaker),
		policy:        PolicyComplexityBased,
		maxAttempts:   DefaultMaxAttempts,
		backoffFactor: DefaultBackoffFactor,
		initialDelay:  DefaultInitialDelay,
		emitter:       emit.NewNullEmitter(),
		rng:           rand.New(rand.NewSource(1)),
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterRole configures the primary+fallback cascade for a role.
func (r *Router) RegisterRole(role string, cfg RoleConfig) {
	r.roles[role] = cfg
}

// RegisterBackend binds a provider name to the ChatModel that serves it,
// and creates its circuit breaker at registration time via breakerFor,
// using the router's configured threshold/timeout (WithBreakerConfig).
func (r *Router) RegisterBackend(provider string, backend model.ChatModel) {
	r.backends[provider] = backend
	r.breakerFor(provider)
}

// Invoke executes the fallback cascade configured for role.
func (r *Router) Invoke(ctx context.Context, role string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	cfg, ok := r.roles[role]
	if !ok {
		return model.ChatOut{}, orcherr.New(orcherr.Configuration, "router_role_unconfigured", fmt.Sprintf("no routing configuration for role %q", role))
	}

	levels := r.orderedLevels(cfg)
	for level, spec := range levels {
		backend, ok := r.backends[spec.Provider]
		if !ok {
			r.emitter.Emit(emit.Event{NodeID: "router", Msg: "provider_unregistered", Meta: map[string]interface{}{"provider": spec.Provider, "role": role}})
			continue
		}
		br := r.breakerFor(spec.Provider)

		out, err := r.attemptLevel(ctx, br, backend, spec, messages, tools)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return model.ChatOut{}, ctx.Err()
		}
		r.emitter.Emit(emit.Event{NodeID: "router", Msg: "fallback_level_exhausted", Meta: map[string]interface{}{
			"role": role, "level": level, "provider": spec.Provider, "error": err.Error(),
		}})
	}
	return model.ChatOut{}, &AllFallbacksFailedError{Role: role}
}

// attemptLevel runs up to maxAttempts against a single ModelSpec,
// short-circuiting immediately (without consuming an attempt) whenever
// the backend's breaker is open.
func (r *Router) attemptLevel(ctx context.Context, br *breaker.Breaker, backend model.ChatModel, spec ModelSpec, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return model.ChatOut{}, ctx.Err()
		}
		if err := br.Allow(); err != nil {
			return model.ChatOut{}, err
		}

		out, err := backend.Chat(ctx, withSystemPrompt(messages, spec.SystemPrompt), tools)
		if err == nil {
			br.AfterSuccess()
			return out, nil
		}
		br.AfterFailure()
		lastErr = err

		if attempt < r.maxAttempts-1 {
			r.sleep(r.computeBackoff(attempt))
		}
	}
	return model.ChatOut{}, lastErr
}

func (r *Router) computeBackoff(attempt int) time.Duration {
	delay := float64(r.initialDelay) * pow(r.backoffFactor, attempt)
	jitter := delay * jitterFraction * (2*r.rng.Float64() - 1)
	total := delay + jitter
	if total < 0 {
		total = 0
	}
	return time.Duration(total)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func withSystemPrompt(messages []model.Message, systemPrompt string) []model.Message {
	if systemPrompt == "" {
		return messages
	}
	out := make([]model.Message, 0, len(messages)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Content: systemPrompt})
	out = append(out, messages...)
	return out
}

func (r *Router) breakerFor(provider string) *breaker.Breaker {
	br, ok := r.breakers[provider]
	if !ok {
		br = breaker.New(provider, r.breakerFailureThreshold, r.breakerResetTimeout)
		r.breakers[provider] = br
	}
	return br
}

// orderedLevels returns the role's primary+fallback candidates arranged
// per the router's configured policy. Policy affects only visitation
// order, never retry semantics (spec.md §4.6).
func (r *Router) orderedLevels(cfg RoleConfig) []ModelSpec {
	levels := append([]ModelSpec{cfg.Primary}, cfg.Fallback...)

	switch r.policy {
	case PolicyCostOptimized:
		reversed := make([]ModelSpec, len(levels))
		for i, spec := range levels {
			reversed[len(levels)-1-i] = spec
		}
		return reversed
	case PolicySpeedOptimized:
		ordered := make([]ModelSpec, len(levels))
		copy(ordered, levels)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Local && !ordered[j].Local
		})
		return ordered
	default:
		return levels
	}
}

// IsAllFallbacksFailed reports whether err is (or wraps) an
// AllFallbacksFailedError.
func IsAllFallbacksFailed(err error) bool {
	var target *AllFallbacksFailedError
	return errors.As(err, &target)
}
