// Package orchestrator assembles every component (C1-C10) into the
// single long-lived record spec.md §9's design note calls for, replacing
// the teacher's and the original's global-singleton construction style:
// one Orchestrator, built once at startup from an config.Config, holds
// explicit references to the checkpoint store, run-key store, rate
// limiter, GPU lock registry, provider router, tool bridge, and graph
// engine, with no process-wide mutable state anywhere in the stack.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zerobranding/orchestrator/internal/bridge"
	"github.com/zerobranding/orchestrator/internal/checkpoint"
	"github.com/zerobranding/orchestrator/internal/config"
	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/engine"
	"github.com/zerobranding/orchestrator/internal/gpulock"
	"github.com/zerobranding/orchestrator/internal/model"
	"github.com/zerobranding/orchestrator/internal/model/anthropic"
	"github.com/zerobranding/orchestrator/internal/model/google"
	"github.com/zerobranding/orchestrator/internal/model/openai"
	"github.com/zerobranding/orchestrator/internal/nodes"
	"github.com/zerobranding/orchestrator/internal/router"
	"github.com/zerobranding/orchestrator/internal/runkey"
	"github.com/zerobranding/orchestrator/internal/schema"
	"github.com/zerobranding/orchestrator/internal/session"
	"github.com/zerobranding/orchestrator/internal/tool"
)

// Backends collects the worker-service URLs this deployment dispatches
// StepSpecs to. Each field is an HTTP base URL for tool.NewHTTPTool; a
// zero-value (empty string) field's tool is simply not registered, and
// any plan item whose action needs it fails at the bridge with an
// "unknown tool" error rather than the process refusing to start -
// matching spec.md's per-action rather than per-process tool-enablement
// model.
type Backends struct {
	GenerateImage     string
	SaveArtifact      string
	LoadImage         string
	UpscaleImage      string
	SaveUpscaled      string
	GenerateKeyframes string
	InterpolateFrames string
	RenderAnimation   string
	LoadAudio         string
	TranscribeAudio   string
	FormatSegments    string
	PrepareText       string
	SynthesizeSpeech  string
	SaveAudio         string
	UploadTelegram    string
	UploadLocal       string
}

// ProviderKeys collects the API keys for the LLM backends the router may
// dispatch role invocations to. A blank key still registers the
// backend: the adapter itself raises a Configuration error on first use
// rather than the process refusing to start, matching
// internal/model/{anthropic,openai,google}'s own lazy-key-check design.
type ProviderKeys struct {
	Anthropic string
	OpenAI    string
	Google    string
}

// Orchestrator is the single long-lived record constructed at startup.
// Every exported method is safe for concurrent use by multiple sessions;
// the underlying components each serialize per-resource (per-session
// checkpoint lock, per-tool rate limiter, per-family GPU lock, per-backend
// breaker) rather than holding one process-wide lock.
type Orchestrator struct {
	Config  config.Config
	Store   checkpoint.Store
	Engine  *engine.Engine
	Router  *router.Router
	Bridge  *bridge.Bridge
	Schemas *schema.Registry
	Metrics *engine.Metrics
}

// Option configures construction-time choices New does not have enough
// information to decide from config.Config alone (which checkpoint
// backend, which emitter, which Prometheus registerer).
type Option func(*buildState)

type buildState struct {
	store      checkpoint.Store
	emitter    emit.Emitter
	registerer prometheus.Registerer
}

// WithStore overrides the default file-backed checkpoint store. Pass the
// result of checkpoint.NewSQLiteStore or checkpoint.NewMySQLStore for the
// SQL-backed alternatives spec.md §4.1 also names; both satisfy
// checkpoint.Store.
func WithStore(s checkpoint.Store) Option {
	return func(b *buildState) { b.store = s }
}

// WithEmitter sets the event emitter shared by the engine and every node.
// Defaults to a LogEmitter over os.Stdout.
func WithEmitter(e emit.Emitter) Option {
	return func(b *buildState) { b.emitter = e }
}

// WithPrometheusRegisterer sets the registry engine.Metrics registers
// into. Defaults to prometheus.DefaultRegisterer.
func WithPrometheusRegisterer(r prometheus.Registerer) Option {
	return func(b *buildState) { b.registerer = r }
}

// New assembles an Orchestrator from a loaded config, a checkpoint
// directory (used only when no WithStore option is given), the set of
// backend worker-service URLs to dispatch StepSpecs to, and the LLM
// provider API keys the router's default roles are registered against.
func New(cfg config.Config, checkpointDir string, backends Backends, keys ProviderKeys, opts ...Option) (*Orchestrator, error) {
	b := &buildState{emitter: emit.NewLogEmitter(os.Stdout, false), registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(b)
	}

	if b.store == nil {
		fileStore, err := checkpoint.NewFileStore(checkpointDir, b.emitter)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: new checkpoint store: %w", err)
		}
		b.store = fileStore
	}

	runkeys := runkey.NewMemStore()
	gpu := gpulock.NewRegistry(cfg.GPU.FairnessWindow)

	tools := tool.NewRegistry()
	registerHTTPTool(tools, "generate_image", backends.GenerateImage, cfg)
	registerHTTPTool(tools, "save_artifact", backends.SaveArtifact, cfg)
	registerHTTPTool(tools, "load_image", backends.LoadImage, cfg)
	registerHTTPTool(tools, "upscale_image", backends.UpscaleImage, cfg)
	registerHTTPTool(tools, "save_upscaled", backends.SaveUpscaled, cfg)
	registerHTTPTool(tools, "generate_keyframes", backends.GenerateKeyframes, cfg)
	registerHTTPTool(tools, "interpolate_frames", backends.InterpolateFrames, cfg)
	registerHTTPTool(tools, "render_animation", backends.RenderAnimation, cfg)
	registerHTTPTool(tools, "load_audio", backends.LoadAudio, cfg)
	registerHTTPTool(tools, "transcribe_audio", backends.TranscribeAudio, cfg)
	registerHTTPTool(tools, "format_segments", backends.FormatSegments, cfg)
	registerHTTPTool(tools, "prepare_text", backends.PrepareText, cfg)
	registerHTTPTool(tools, "synthesize_speech", backends.SynthesizeSpeech, cfg)
	registerHTTPTool(tools, "save_audio", backends.SaveAudio, cfg)
	registerHTTPTool(tools, "upload_telegram", backends.UploadTelegram, cfg)
	registerHTTPTool(tools, "upload_local", backends.UploadLocal, cfg)

	bridgeOpts := []bridge.Option{bridge.WithEmitter(b.emitter)}
	for toolName, tc := range cfg.Tools {
		if tc.Rate > 0 {
			bridgeOpts = append(bridgeOpts, bridge.WithToolRate(toolName, tc.Rate))
		}
		if tc.TimeoutS > 0 {
			bridgeOpts = append(bridgeOpts, bridge.WithToolTimeout(toolName, tc.TimeoutS))
		}
	}
	br := bridge.New(tools, runkeys, gpu, bridgeOpts...)

	schemas := schema.NewRegistry()
	schema.RegisterKnownTools(schemas)

	policy := router.Policy(cfg.Routing.DefaultPolicy)
	prov := router.New(
		router.WithPolicy(policy),
		router.WithRetry(cfg.Routing.MaxAttempts, cfg.Routing.BackoffFactor, cfg.Routing.InitialDelay),
		router.WithEmitter(b.emitter),
		router.WithBreakerConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeoutS),
	)
	registerDefaultRoles(prov, keys)

	metrics := engine.NewMetrics(b.registerer)

	planner := nodes.NewPlanner(b.emitter)
	decider := nodes.NewDecider(
		nodes.WithMaxSteps(cfg.Graph.MaxSteps),
		nodes.WithMaxParallelGPU(cfg.GPU.MaxParallel),
		nodes.WithDeciderEmitter(b.emitter),
	)
	executor := nodes.NewExecutor(br, b.emitter, nodes.WithSchemaRegistry(schemas))
	reporter := nodes.NewReporter(b.emitter)

	eng := engine.New(planner, decider, executor, reporter, b.store,
		engine.WithRetryBudget(cfg.Graph.RetryBudget),
		engine.WithEngineEmitter(b.emitter),
		engine.WithMetrics(metrics),
	)

	return &Orchestrator{
		Config:  cfg,
		Store:   b.store,
		Engine:  eng,
		Router:  prov,
		Bridge:  br,
		Schemas: schemas,
		Metrics: metrics,
	}, nil
}

func registerHTTPTool(tools *tool.Registry, name, baseURL string, cfg config.Config) {
	if baseURL == "" {
		return
	}
	timeout := cfg.ToolTimeout(name)
	if timeout <= 0 {
		timeout = bridge.DefaultTimeout
	}
	tools.Register(tool.NewHTTPTool(name, baseURL, timeout))
}

// registerDefaultRoles wires two example roles with primary/fallback
// cascades: "planning_assist" uses an Anthropic model first and falls back
// to OpenAI, then Google; "caption" uses a small OpenAI model with one
// Anthropic fallback. Deployments needing
// more roles call Router.RegisterRole directly; this seeds the
// Orchestrator usable out of the box against the three built-in
// provider adapters.
func registerDefaultRoles(r *router.Router, keys ProviderKeys) {
	r.RegisterBackend("anthropic", anthropic.NewChatModel(keys.Anthropic, ""))
	r.RegisterBackend("openai", openai.NewChatModel(keys.OpenAI, ""))
	r.RegisterBackend("google", google.NewChatModel(keys.Google, ""))

	r.RegisterRole("planning_assist", router.RoleConfig{
		Primary:  router.ModelSpec{Provider: "anthropic", Model: "claude-sonnet-4-5-20250929", Temperature: 0.2, MaxTokens: 1024},
		Fallback: []router.ModelSpec{
			{Provider: "openai", Model: "gpt-4o", Temperature: 0.2, MaxTokens: 1024},
			{Provider: "google", Model: "gemini-1.5-pro", Temperature: 0.2, MaxTokens: 1024},
		},
	})
	r.RegisterRole("caption", router.RoleConfig{
		Primary: router.ModelSpec{Provider: "openai", Model: "gpt-4o-mini", Temperature: 0.5, MaxTokens: 256},
		Fallback: []router.ModelSpec{
			{Provider: "anthropic", Model: "claude-haiku-4-5", Temperature: 0.5, MaxTokens: 256},
		},
	})
}

// Start begins a new session. sessionID may be empty to mint a fresh one.
func (o *Orchestrator) Start(ctx context.Context, sessionID, goal string, user session.UserContext) (engine.RunResult, error) {
	return o.Engine.Start(ctx, sessionID, goal, user)
}

// Resume continues a checkpointed session from its last recorded node.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (engine.RunResult, error) {
	return o.Engine.Resume(ctx, sessionID, nil)
}

// Cancel marks a session cancelled, observed at the session's next
// decider tick whether that tick runs in this process or another one
// that later calls Resume.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (bool, error) {
	return o.Engine.Cancel(ctx, sessionID)
}

// State returns a session's last persisted checkpoint.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (session.State, bool, error) {
	return o.Engine.State(ctx, sessionID)
}

// InvokeRole routes a direct provider call through the configured
// role cascade, bypassing the plan/decide/execute graph entirely. This
// is the Router's standalone entry point (spec.md component C6 is listed
// independently of C8's node kinds): no node in internal/nodes calls it
// today, since the planner this module is grounded on is pattern/keyword
// based with no LLM step (see DESIGN.md).
func (o *Orchestrator) InvokeRole(ctx context.Context, role string, messages []model.Message, tools []model.ToolSpec) (model.ChatOut, error) {
	return o.Router.Invoke(ctx, role, messages, tools)
}

// DefaultCheckpointPollInterval is how often a long-running caller might
// reasonably poll State while a session executes asynchronously
// elsewhere; exported as a suggestion, not enforced by this package.
const DefaultCheckpointPollInterval = 500 * time.Millisecond
