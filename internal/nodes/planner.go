package nodes

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/session"
)

// actionConfig holds the default scheduling parameters for one plan action.
type actionConfig struct {
	estimatedDurationS int
	maxRetries         int
	requiresGPU        bool
}

var actionConfigs = map[string]actionConfig{
	"txt2img":          {estimatedDurationS: 15, maxRetries: 2, requiresGPU: true},
	"img2img":          {estimatedDurationS: 20, maxRetries: 2, requiresGPU: true},
	"upscale":          {estimatedDurationS: 30, maxRetries: 1, requiresGPU: true},
	"anim":             {estimatedDurationS: 60, maxRetries: 1, requiresGPU: true},
	"asr":              {estimatedDurationS: 10, maxRetries: 2, requiresGPU: false},
	"tts":              {estimatedDurationS: 5, maxRetries: 2, requiresGPU: false},
	"upload_youtube":   {estimatedDurationS: 45, maxRetries: 3, requiresGPU: false},
	"upload_tiktok":    {estimatedDurationS: 30, maxRetries: 3, requiresGPU: false},
	"upload_instagram": {estimatedDurationS: 30, maxRetries: 3, requiresGPU: false},
}

const defaultMaxRetries = 2
const defaultEstimatedDurationS = 30

// commandRoute pairs a prefix command pattern with the planning function it
// dispatches to. Order matters: patterns are tried in sequence and the
// first match wins, mirroring a command-table lookup rather than a single
// regex alternation.
type commandRoute struct {
	pattern *regexp.Regexp
	plan    func(p *Planner, prompt string, role session.Role) []session.PlanItem
}

var commandRoutes = []commandRoute{
	{regexp.MustCompile(`(?i)^/img\s+(.+)`), (*Planner).planImageGeneration},
	{regexp.MustCompile(`(?i)^/image\s+(.+)`), (*Planner).planImageGeneration},
	{regexp.MustCompile(`(?i)^/anim\s+(.+)`), (*Planner).planAnimation},
	{regexp.MustCompile(`(?i)^/video\s+(.+)`), (*Planner).planAnimation},
	{regexp.MustCompile(`(?i)^/asr\s+(.+)`), (*Planner).planSpeechRecognition},
	{regexp.MustCompile(`(?i)^/tts\s+(.+)`), (*Planner).planTextToSpeech},
	{regexp.MustCompile(`(?i)^/voice\s+(.+)`), (*Planner).planTextToSpeech},
	{regexp.MustCompile(`(?i)^/upload\s+(.+)`), (*Planner).planUpload},
	{regexp.MustCompile(`(?i)^/share\s+(.+)`), (*Planner).planUpload},
	{regexp.MustCompile(`(?i)^/create\s+(.+)`), (*Planner).planCreativeWorkflow},
	{regexp.MustCompile(`(?i)^/complete\s+(.+)`), (*Planner).planCreativeWorkflow},
}

// Planner builds an ordered, dependency-resolved plan from a goal string.
type Planner struct {
	emitter emit.Emitter
}

// NewPlanner constructs a Planner. A nil emitter is replaced with a no-op.
func NewPlanner(emitter emit.Emitter) *Planner {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Planner{emitter: emitter}
}

func (p *Planner) Name() string { return "planner" }

func (p *Planner) Run(ctx context.Context, state session.State) Result {
	p.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: p.Name(), Msg: "node_start", Meta: map[string]interface{}{"goal": state.Goal}})

	items := p.createPlan(state.Goal, state.User.Role)
	if len(items) == 0 {
		state.AddError(session.SeverityError, "", "no valid plan could be created from goal", nil)
		state.Plan = nil
		return Result{State: state}
	}

	resolved := p.resolveDependencies(items)
	state.Plan = resolved
	state.Status = session.StatusExecuting
	p.emitter.Emit(emit.Event{SessionID: state.SessionID, NodeID: p.Name(), Msg: "plan_created", Meta: map[string]interface{}{"steps": len(resolved)}})
	return Result{State: state}
}

func (p *Planner) createPlan(goal string, role session.Role) []session.PlanItem {
	trimmed := strings.TrimSpace(goal)
	for _, route := range commandRoutes {
		if match := route.pattern.FindStringSubmatch(trimmed); match != nil {
			return route.plan(p, strings.TrimSpace(match[1]), role)
		}
	}
	return p.planIntelligentFallback(goal, role)
}

func (p *Planner) planImageGeneration(prompt string, role session.Role) []session.PlanItem {
	var items []session.PlanItem
	gen := p.newItem("txt2img", map[string]interface{}{
		"prompt":    prompt,
		"model":     "sd15",
		"width":     512,
		"height":    512,
		"steps":     20,
		"cfg_scale": 7.0,
	})
	items = append(items, gen)

	if role == session.RoleUser || role == session.RoleAdmin {
		items = append(items, p.newItem("upscale", map[string]interface{}{
			"scale_factor": 2,
			"model":        "RealESRGAN_x2plus",
		}, gen.ID))
	}
	return items
}

func (p *Planner) planAnimation(prompt string, role session.Role) []session.PlanItem {
	gen := p.newItem("txt2img", map[string]interface{}{
		"prompt": prompt,
		"model":  "sd15",
		"width":  512,
		"height": 512,
	})
	anim := p.newItem("anim", map[string]interface{}{
		"animation_type": "video",
		"duration_s":     3,
		"fps":            24,
	}, gen.ID)
	return []session.PlanItem{gen, anim}
}

func (p *Planner) planSpeechRecognition(audioInput string, role session.Role) []session.PlanItem {
	return []session.PlanItem{p.newItem("asr", map[string]interface{}{
		"audio_input": audioInput,
		"model":       "whisper-base",
		"language":    "de",
	})}
}

func (p *Planner) planTextToSpeech(text string, role session.Role) []session.PlanItem {
	return []session.PlanItem{p.newItem("tts", map[string]interface{}{
		"text":  text,
		"voice": "de-speaker",
		"speed": 1.0,
	})}
}

func (p *Planner) planUpload(contentDesc string, role session.Role) []session.PlanItem {
	lower := strings.ToLower(contentDesc)
	switch {
	case strings.Contains(lower, "youtube"):
		return []session.PlanItem{p.newItem("upload_youtube", map[string]interface{}{"description": contentDesc})}
	case strings.Contains(lower, "tiktok"):
		return []session.PlanItem{p.newItem("upload_tiktok", map[string]interface{}{"description": contentDesc})}
	default:
		return []session.PlanItem{
			p.newItem("upload_youtube", map[string]interface{}{"description": contentDesc}),
			p.newItem("upload_tiktok", map[string]interface{}{"description": contentDesc}),
		}
	}
}

func (p *Planner) planCreativeWorkflow(prompt string, role session.Role) []session.PlanItem {
	gen := p.newItem("txt2img", map[string]interface{}{"prompt": prompt, "model": "sd15"})
	upscale := p.newItem("upscale", map[string]interface{}{"scale_factor": 2}, gen.ID)
	anim := p.newItem("anim", map[string]interface{}{"animation_type": "video", "duration_s": 5}, upscale.ID)

	items := []session.PlanItem{gen, upscale, anim}
	if role == session.RoleUser || role == session.RoleAdmin {
		title := prompt
		if len(title) > 50 {
			title = title[:50]
		}
		items = append(items, p.newItem("upload_youtube", map[string]interface{}{"title": "Generated: " + title}, anim.ID))
	}
	return items
}

func (p *Planner) planIntelligentFallback(goal string, role session.Role) []session.PlanItem {
	lower := strings.ToLower(goal)
	switch {
	case containsAny(lower, "bild", "image", "foto", "picture"):
		return p.planImageGeneration(goal, role)
	case containsAny(lower, "video", "animation", "anim"):
		return p.planAnimation(goal, role)
	case containsAny(lower, "sprache", "voice", "speak"):
		return p.planTextToSpeech(goal, role)
	default:
		return p.planImageGeneration(goal, role)
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func (p *Planner) newItem(action string, params map[string]interface{}, dependencies ...string) session.PlanItem {
	cfg, ok := actionConfigs[action]
	maxRetries := defaultMaxRetries
	duration := defaultEstimatedDurationS
	requiresGPU := false
	if ok {
		maxRetries = cfg.maxRetries
		duration = cfg.estimatedDurationS
		requiresGPU = cfg.requiresGPU
	}
	return session.PlanItem{
		ID:                 uuid.NewString(),
		Action:             action,
		Params:             params,
		Dependencies:       dependencies,
		Status:             session.ItemPending,
		MaxRetries:         maxRetries,
		EstimatedDurationS: duration,
		RequiresGPU:        requiresGPU,
	}
}

// resolveDependencies topologically orders items so each appears after all
// of its dependencies. Items caught in a cycle or with an unresolvable
// dependency are appended in their remaining order rather than dropped.
func (p *Planner) resolveDependencies(items []session.PlanItem) []session.PlanItem {
	resolved := make([]session.PlanItem, 0, len(items))
	remaining := append([]session.PlanItem(nil), items...)

	resolvedIDs := make(map[string]bool, len(items))

	for len(remaining) > 0 {
		var ready, notReady []session.PlanItem
		for _, item := range remaining {
			if allResolved(item.Dependencies, resolvedIDs) {
				ready = append(ready, item)
			} else {
				notReady = append(notReady, item)
			}
		}

		if len(ready) == 0 {
			p.emitter.Emit(emit.Event{NodeID: p.Name(), Msg: "dependency_cycle_fallback", Meta: map[string]interface{}{"remaining": len(remaining)}})
			ready = remaining
			notReady = nil
		}

		for _, item := range ready {
			resolvedIDs[item.ID] = true
		}
		resolved = append(resolved, ready...)
		remaining = notReady
	}

	return resolved
}

func allResolved(deps []string, resolvedIDs map[string]bool) bool {
	for _, d := range deps {
		if !resolvedIDs[d] {
			return false
		}
	}
	return true
}
