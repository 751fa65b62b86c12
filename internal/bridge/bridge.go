// Package bridge implements the Tool Invocation Bridge (spec.md §4.7): it
// turns a single LLM-level tool call into one or more StepSpecs, funnels
// every step through the run-key/rate-limit/GPU-lock/timeout wrapper, and
// extracts well-known artifact paths from the combined output.
//
// Grounded on original_source/ai/graph/bridge.py's run_tool (dedup check
// → rate-limit acquire → timeout → backend call → run-key insert) plus
// spec.md §4.7's tool→StepSpec mapping table, cross-checked against
// ai/graph/tools.py's and ai/graph/nodes/executor.py's action names.
package bridge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/gpulock"
	"github.com/zerobranding/orchestrator/internal/orcherr"
	"github.com/zerobranding/orchestrator/internal/ratelimit"
	"github.com/zerobranding/orchestrator/internal/runkey"
	"github.com/zerobranding/orchestrator/internal/tool"
)

// DefaultTimeout is the per-tool execution timeout when none is
// configured (spec.md §6, "timeout_s (default 300)").
const DefaultTimeout = 300 * time.Second

// ToolCall is the logical LLM-level action the bridge converts into
// StepSpecs. Distinct from model.ToolCall so the bridge does not couple
// to the provider wire format.
type ToolCall struct {
	Name      string
	Arguments map[string]interface{}
}

// StepSpec is one unit of execution submitted to the execution backend.
type StepSpec struct {
	Name      string
	Type      string
	Params    map[string]interface{}
	DependsOn []string
}

// ArtifactResult annotates one well-known output path with its inferred
// media type.
type ArtifactResult struct {
	Kind string
	Path string
}

// ToolResult is the combined output of a ToolCall's StepSpec sequence.
type ToolResult struct {
	Output    map[string]interface{}
	Artifacts []ArtifactResult
}

// gpuFamilies maps a step Type to the GPU family it must lock, for step
// types that require exclusive GPU access. Types absent from this map
// run without a GPU lock.
var gpuFamilies = map[string]string{
	"generate_image":      "sd",
	"modify_image":        "sd",
	"upscale_image":       "sd",
	"generate_keyframes":  "sd",
	"interpolate_frames":  "sd",
	"render_animation":    "sd",
}

// Bridge wires the cross-cutting run-key/rate-limit/GPU-lock/timeout
// contract around tool.Registry backends.
type Bridge struct {
	tools    *tool.Registry
	runkeys  runkey.Store
	gpu      *gpulock.Registry
	emitter  emit.Emitter

	limiters        map[string]*ratelimit.Limiter
	defaultRate     float64
	timeouts        map[string]time.Duration
	defaultTimeout  time.Duration
}

// Option configures a Bridge at construction time.
type Option func(*Bridge)

func WithToolTimeout(toolName string, d time.Duration) Option {
	return func(b *Bridge) { b.timeouts[toolName] = d }
}

func WithToolRate(toolName string, rate float64) Option {
	return func(b *Bridge) { b.limiters[toolName] = ratelimit.NewLimiter(rate) }
}

func WithEmitter(e emit.Emitter) Option {
	return func(b *Bridge) { b.emitter = e }
}

// New builds a Bridge over the given tool registry, run-key store, and
// GPU lock registry.
func New(tools *tool.Registry, runkeys runkey.Store, gpu *gpulock.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		tools:          tools,
		runkeys:        runkeys,
		gpu:            gpu,
		emitter:        emit.NewNullEmitter(),
		limiters:       make(map[string]*ratelimit.Limiter),
		defaultRate:    ratelimit.DefaultRate,
		timeouts:       make(map[string]time.Duration),
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ToStepSpecs expands call into its StepSpec sequence per the known tool
// mapping table. Unknown tool names fall back to a single pass-through
// step. The result is stable-sorted so equal inputs always produce equal
// sequences (ties among independent steps break on step name).
func ToStepSpecs(call ToolCall) []StepSpec {
	return topoSortStable(buildSteps(call))
}

// buildSteps expands call into its StepSpec set per the known tool mapping
// table, unordered (see ToStepSpecs/stepLevelsOf for ordering).
func buildSteps(call ToolCall) []StepSpec {
	var steps []StepSpec

	switch call.Name {
	case "sd_generate":
		steps = append(steps, StepSpec{Name: "generate_image", Type: "generate_image", Params: call.Arguments})
		if truthy(call.Arguments["save_artifact"]) {
			steps = append(steps, StepSpec{Name: "save_artifact", Type: "save_artifact", Params: call.Arguments, DependsOn: []string{"generate_image"}})
		}

	case "upscale_image":
		var upscaleDeps []string
		if _, hasPath := call.Arguments["image_path"]; !hasPath {
			steps = append(steps, StepSpec{Name: "load_image", Type: "load_image", Params: call.Arguments})
			upscaleDeps = []string{"load_image"}
		}
		steps = append(steps, StepSpec{Name: "upscale_image", Type: "upscale_image", Params: call.Arguments, DependsOn: upscaleDeps})
		if truthy(call.Arguments["save_upscaled"]) {
			steps = append(steps, StepSpec{Name: "save_upscaled", Type: "save_upscaled", Params: call.Arguments, DependsOn: []string{"upscale_image"}})
		}

	case "generate_animation":
		steps = append(steps,
			StepSpec{Name: "generate_keyframes", Type: "generate_keyframes", Params: call.Arguments},
			StepSpec{Name: "interpolate_frames", Type: "interpolate_frames", Params: call.Arguments, DependsOn: []string{"generate_keyframes"}},
			StepSpec{Name: "render_animation", Type: "render_animation", Params: call.Arguments, DependsOn: []string{"interpolate_frames"}},
		)

	case "transcribe_audio":
		steps = append(steps,
			StepSpec{Name: "load_audio", Type: "load_audio", Params: call.Arguments},
			StepSpec{Name: "transcribe_audio", Type: "transcribe_audio", Params: call.Arguments, DependsOn: []string{"load_audio"}},
		)
		if truthy(call.Arguments["format_segments"]) {
			steps = append(steps, StepSpec{Name: "format_segments", Type: "format_segments", Params: call.Arguments, DependsOn: []string{"transcribe_audio"}})
		}

	case "synthesize_speech":
		steps = append(steps,
			StepSpec{Name: "prepare_text", Type: "prepare_text", Params: call.Arguments},
			StepSpec{Name: "synthesize_speech", Type: "synthesize_speech", Params: call.Arguments, DependsOn: []string{"prepare_text"}},
			StepSpec{Name: "save_audio", Type: "save_audio", Params: call.Arguments, DependsOn: []string{"synthesize_speech"}},
		)

	case "upload_file":
		dest, _ := call.Arguments["destination"].(string)
		if dest == "telegram" {
			steps = append(steps, StepSpec{Name: "upload_telegram", Type: "upload_telegram", Params: call.Arguments})
		} else {
			steps = append(steps, StepSpec{Name: "upload_local", Type: "upload_local", Params: call.Arguments})
		}

	default:
		steps = append(steps, StepSpec{Name: call.Name, Type: call.Name, Params: call.Arguments})
	}

	return steps
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// topoSortStable flattens stepLevelsOf's level grouping into a single
// ordered sequence, for callers (ToStepSpecs, its tests) that only need a
// deterministic order and not the level structure itself.
func topoSortStable(steps []StepSpec) []StepSpec {
	levels := stepLevelsOf(steps)
	out := make([]StepSpec, 0, len(steps))
	for _, level := range levels {
		out = append(out, level...)
	}
	return out
}

// stepLevelsOf groups steps into topological levels: every step in a level
// has all of its DependsOn satisfied by an earlier level, so the steps
// within one level are mutually independent and safe to run concurrently.
// Each level is itself stable-sorted by step name, so equal inputs always
// yield equal levels regardless of construction order.
func stepLevelsOf(steps []StepSpec) [][]StepSpec {
	byName := make(map[string]StepSpec, len(steps))
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)

	for _, s := range steps {
		byName[s.Name] = s
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			indegree[s.Name]++
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var levels [][]StepSpec
	for len(ready) > 0 {
		level := make([]StepSpec, 0, len(ready))
		var newlyReady []string
		for _, name := range ready {
			level = append(level, byName[name])
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					newlyReady = append(newlyReady, dep)
				}
			}
		}
		levels = append(levels, level)
		sort.Strings(newlyReady)
		ready = newlyReady
	}
	return levels
}

// CorrelationID derives a stable idempotency/correlation id as MD5 over
// the canonical (key-sorted) JSON encoding of workflow.
func CorrelationID(workflow interface{}) (string, error) {
	canonical, err := canonicalJSON(workflow)
	if err != nil {
		return "", orcherr.Wrap(orcherr.Validation, "bridge_canonical_json_failed", "failed to canonicalize workflow for correlation id", err)
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalCanonical(generic)
}

func marshalCanonical(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte("{")
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, _ := json.Marshal(k)
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			valJSON, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, valJSON...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte("[")
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemJSON, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemJSON...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// Execute runs a ToolCall's StepSpec sequence for session sessionID at
// logical step stepIndex, wrapping every step in run-key/rate-limit/
// GPU-lock/timeout, and returns the combined output with extracted
// artifacts. Steps within one topological level (stepLevelsOf) have no
// DependsOn relationship to one another, so they run concurrently via
// errgroup; levels themselves run in order, since a later level's params
// or run-key may depend on an earlier level's output being present first.
func (b *Bridge) Execute(ctx context.Context, sessionID string, stepIndex int, call ToolCall) (ToolResult, error) {
	levels := stepLevelsOf(buildSteps(call))
	outputs := make(map[string]interface{})

	for _, level := range levels {
		out, err := b.runLevel(ctx, sessionID, stepIndex, level)
		if err != nil {
			return ToolResult{}, err
		}
		for k, v := range out {
			outputs[k] = v
		}
	}

	return ToolResult{Output: outputs, Artifacts: extractArtifacts(outputs)}, nil
}

// runLevel executes every step in level concurrently via errgroup, since
// membership in the same level (stepLevelsOf) means none of them depends
// on another's output, and merges their results once all have finished.
func (b *Bridge) runLevel(ctx context.Context, sessionID string, stepIndex int, level []StepSpec) (map[string]interface{}, error) {
	results := make([]map[string]interface{}, len(level))
	g, gctx := errgroup.WithContext(ctx)
	for i, step := range level {
		i, step := i, step
		g.Go(func() error {
			out, err := b.executeStep(gctx, sessionID, stepIndex, step)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	merged := make(map[string]interface{})
	for _, out := range results {
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged, nil
}

func (b *Bridge) executeStep(ctx context.Context, sessionID string, stepIndex int, step StepSpec) (map[string]interface{}, error) {
	key := runkey.Key(sessionID, step.Name, stepIndex)

	if cached, found, err := b.runkeys.Get(ctx, key); err != nil {
		return nil, err
	} else if found {
		b.emitter.Emit(emit.Event{SessionID: sessionID, Step: stepIndex, NodeID: "bridge", Msg: "run_key_cache_hit", Meta: map[string]interface{}{"key": key}})
		return cached, nil
	}

	if err := b.limiterFor(step.Type).Acquire(ctx); err != nil {
		return nil, err
	}

	if family, ok := gpuFamilies[step.Type]; ok {
		handle, err := b.gpu.Acquire(ctx, family, sessionID)
		if err != nil {
			return nil, err
		}
		defer handle.Release()
	}

	backend, ok := b.tools.Get(step.Type)
	if !ok {
		return nil, orcherr.New(orcherr.Configuration, "bridge_unknown_tool", fmt.Sprintf("no backend registered for tool type %q", step.Type))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeoutFor(step.Type))
	defer cancel()

	result, err := backend.Call(callCtx, step.Params)
	if err != nil {
		return nil, err
	}

	canonical, err := b.runkeys.Put(ctx, key, result)
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

func (b *Bridge) limiterFor(toolType string) *ratelimit.Limiter {
	if l, ok := b.limiters[toolType]; ok {
		return l
	}
	l := ratelimit.NewLimiter(b.defaultRate)
	b.limiters[toolType] = l
	return l
}

func (b *Bridge) timeoutFor(toolType string) time.Duration {
	if d, ok := b.timeouts[toolType]; ok && d > 0 {
		return d
	}
	return b.defaultTimeout
}

// wellKnownArtifactKeys maps an output key to the artifact kind emitted
// when it's present, per spec.md §4.7.
var wellKnownArtifactKeys = map[string]string{
	"image_path": "image/png",
	"video_path": "video/mp4",
	"audio_path": "audio/wav",
}

func extractArtifacts(outputs map[string]interface{}) []ArtifactResult {
	var artifacts []ArtifactResult
	for key, kind := range wellKnownArtifactKeys {
		if v, ok := outputs[key]; ok {
			if path, ok := v.(string); ok && path != "" {
				artifacts = append(artifacts, ArtifactResult{Kind: kind, Path: path})
			}
		}
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return artifacts
}
