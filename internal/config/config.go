// Package config loads the orchestrator's configuration record (spec.md
// §6, "Configuration recognized options") as a plain struct, following the
// teacher's functional-option pattern (graph/options.go) rather than a
// builder or a viper-style key/value bag: a config.Config is built once at
// startup, from defaults, an optional YAML file, and environment overrides,
// then handed by value to each component's constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RoutingConfig controls the provider router (internal/router).
type RoutingConfig struct {
	DefaultPolicy string  `yaml:"default_policy"`
	MaxAttempts   int     `yaml:"max_attempts"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
}

// ToolConfig is one tool's rate limit and timeout (internal/ratelimit,
// internal/bridge). Keyed by the internal/bridge.StepSpec.Type a backend
// tool is registered under (e.g. "generate_image", "upscale_image"), not
// by the higher-level ToolCall.Name a plan item's action maps to
// ("sd_generate" expands to the "generate_image" and "save_artifact"
// step types, which may want different rates) — internal/bridge's
// per-step wrapping acquires the rate limiter and timeout by StepSpec
// type, so that is what Config.Tools must key by too.
type ToolConfig struct {
	Rate      float64       `yaml:"rate"`
	TimeoutS  time.Duration `yaml:"timeout_s"`
}

// GPUConfig controls per-family GPU fairness (internal/gpulock).
type GPUConfig struct {
	FairnessWindow time.Duration `yaml:"fairness_window"`
	MaxParallel    int           `yaml:"max_parallel_gpu"`
}

// BreakerConfig controls the circuit breaker (internal/breaker).
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeoutS    time.Duration `yaml:"reset_timeout_s"`
}

// GraphConfig controls the graph runtime (internal/engine, internal/nodes).
type GraphConfig struct {
	MaxSteps    int `yaml:"max_steps"`
	RetryBudget int `yaml:"retry_budget"`
}

// Config is the full recognized-options record of spec.md §6. Zero values
// in a loaded YAML document are filled in by Defaults() before use;
// environment-supplied identifiers (workspace root, provider base URLs,
// API keys) are intentionally absent here — spec.md treats those as
// opaque inputs, so they are read directly from the environment by
// cmd/orchestrator rather than threaded through this struct.
type Config struct {
	Routing RoutingConfig         `yaml:"routing"`
	Tools   map[string]ToolConfig `yaml:"tools"`
	GPU     GPUConfig             `yaml:"gpu"`
	Breaker BreakerConfig         `yaml:"breaker"`
	Graph   GraphConfig           `yaml:"graph"`
}

// Defaults returns the spec.md §6 default configuration.
func Defaults() Config {
	return Config{
		Routing: RoutingConfig{
			DefaultPolicy: "complexity-based",
			MaxAttempts:   3,
			BackoffFactor: 2.0,
			InitialDelay:  time.Second,
		},
		Tools: map[string]ToolConfig{},
		GPU: GPUConfig{
			FairnessWindow: 50 * time.Millisecond,
			MaxParallel:    1,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeoutS:    30 * time.Second,
		},
		Graph: GraphConfig{
			MaxSteps:    20,
			RetryBudget: 10,
		},
	}
}

// Option mutates a Config under construction, mirroring graph.Option's
// role in the teacher: Load builds a Config from defaults plus an
// optional file, then applies Options on top so tests can override a
// single field without writing a fixture file.
type Option func(*Config)

// WithRoutingPolicy overrides the default routing policy.
func WithRoutingPolicy(policy string) Option {
	return func(c *Config) { c.Routing.DefaultPolicy = policy }
}

// WithMaxSteps overrides Graph.MaxSteps.
func WithMaxSteps(n int) Option {
	return func(c *Config) { c.Graph.MaxSteps = n }
}

// WithRetryBudget overrides Graph.RetryBudget.
func WithRetryBudget(n int) Option {
	return func(c *Config) { c.Graph.RetryBudget = n }
}

// WithMaxParallelGPU overrides GPU.MaxParallel.
func WithMaxParallelGPU(n int) Option {
	return func(c *Config) { c.GPU.MaxParallel = n }
}

// WithToolConfig sets or overrides a single tool's rate/timeout.
func WithToolConfig(tool string, tc ToolConfig) Option {
	return func(c *Config) {
		if c.Tools == nil {
			c.Tools = map[string]ToolConfig{}
		}
		c.Tools[tool] = tc
	}
}

// Load reads path as YAML into a Config seeded with Defaults(), then
// applies opts, then applies environment overrides recognized by
// applyEnv. path may be empty, in which case only defaults, opts and the
// environment apply. A missing file at a non-empty path is an error: the
// caller asked for a config file, so a typo in the path should fail
// loudly rather than silently fall back to defaults (spec.md §7 treats
// configuration errors as fatal at startup, never retried).
func Load(path string, opts ...Option) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv layers a small set of environment overrides on top of a loaded
// Config, for the knobs operators most often need to flip without editing
// the YAML file (matching the teacher's convention, seen throughout
// graph/, of never requiring a config file for a sane default run).
func applyEnv(cfg *Config) error {
	if v := os.Getenv("ORCHESTRATOR_MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ORCHESTRATOR_MAX_STEPS: %w", err)
		}
		cfg.Graph.MaxSteps = n
	}
	if v := os.Getenv("ORCHESTRATOR_MAX_PARALLEL_GPU"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: ORCHESTRATOR_MAX_PARALLEL_GPU: %w", err)
		}
		cfg.GPU.MaxParallel = n
	}
	if v := os.Getenv("ORCHESTRATOR_ROUTING_POLICY"); v != "" {
		cfg.Routing.DefaultPolicy = v
	}
	return nil
}

// Validate checks the invariants Load and the functional options can't
// enforce structurally: positive counts and known enum values. Returns a
// plain error (not an orcherr.Error); cmd/orchestrator treats any error
// from Load as fatal at startup.
func (c Config) Validate() error {
	switch c.Routing.DefaultPolicy {
	case "complexity-based", "cost-optimized", "speed-optimized":
	default:
		return fmt.Errorf("config: unknown routing policy %q", c.Routing.DefaultPolicy)
	}
	if c.Graph.MaxSteps <= 0 {
		return fmt.Errorf("config: graph.max_steps must be positive, got %d", c.Graph.MaxSteps)
	}
	if c.Graph.RetryBudget < 0 {
		return fmt.Errorf("config: graph.retry_budget must not be negative, got %d", c.Graph.RetryBudget)
	}
	if c.GPU.MaxParallel <= 0 {
		return fmt.Errorf("config: gpu.max_parallel_gpu must be positive, got %d", c.GPU.MaxParallel)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("config: breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	return nil
}

// ToolRate returns the configured rate for tool, or 0 when unconfigured,
// signaling "use the package default" (ratelimit.DefaultRate).
func (c Config) ToolRate(tool string) float64 {
	if tc, ok := c.Tools[tool]; ok && tc.Rate > 0 {
		return tc.Rate
	}
	return 0
}

// ToolTimeout returns the configured timeout for tool, or 0 (signaling
// "use the package default") when unconfigured.
func (c Config) ToolTimeout(tool string) time.Duration {
	if tc, ok := c.Tools[tool]; ok && tc.TimeoutS > 0 {
		return tc.TimeoutS
	}
	return 0
}
