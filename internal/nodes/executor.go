package nodes

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/zerobranding/orchestrator/internal/bridge"
	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/orcherr"
	"github.com/zerobranding/orchestrator/internal/schema"
	"github.com/zerobranding/orchestrator/internal/session"
)

// schemaNameByAction maps a plan item's action to its entry in the schema
// registry. Distinct from toolNameByAction: the bridge's ToolCall names
// are the (possibly multi-step) backend operation, while schema names
// follow original_source/ai/graph/tools.py's per-action tool schema
// naming (generate_image, modify_image, create_animation, ...).
var schemaNameByAction = map[string]string{
	"txt2img":          "generate_image",
	"img2img":          "modify_image",
	"upscale":          "upscale_image",
	"anim":             "create_animation",
	"asr":              "speech_to_text",
	"tts":              "generate_speech",
	"upload_youtube":   "upload_youtube",
	"upload_tiktok":    "upload_tiktok",
	"upload_instagram": "upload_instagram",
}

// toolNameByAction maps a plan item's action to the bridge's logical
// ToolCall name. Actions absent from this table are passed straight
// through to the bridge as their own tool name.
var toolNameByAction = map[string]string{
	"txt2img":          "sd_generate",
	"img2img":          "sd_generate",
	"upscale":          "upscale_image",
	"anim":             "generate_animation",
	"asr":              "transcribe_audio",
	"tts":              "synthesize_speech",
	"upload_youtube":   "upload_file",
	"upload_tiktok":    "upload_file",
	"upload_instagram": "upload_file",
}

// platformByAction names the upload destination an upload action targets.
var platformByAction = map[string]string{
	"upload_youtube":   "youtube",
	"upload_tiktok":    "tiktok",
	"upload_instagram": "instagram",
}

// Executor runs the Decider's chosen plan item through the tool bridge.
type Executor struct {
	bridge  *bridge.Bridge
	emitter emit.Emitter
	schemas *schema.Registry
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithSchemaRegistry enables pre-dispatch parameter validation: before a
// plan item reaches the bridge, its params are checked against the
// registry entry named by schemaNameByAction. Without this option the
// Executor skips validation entirely and relies on the backend tool to
// reject bad input itself.
func WithSchemaRegistry(r *schema.Registry) Option {
	return func(e *Executor) { e.schemas = r }
}

// NewExecutor constructs an Executor over the given bridge.
func NewExecutor(b *bridge.Bridge, emitter emit.Emitter, opts ...Option) *Executor {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	e := &Executor{bridge: b, emitter: emitter}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Name() string { return "executor" }

func (e *Executor) Run(ctx context.Context, state session.State) Result {
	idx := indexOf(state.Plan, state.NextItemID)
	if idx < 0 {
		return Result{State: state, Err: orcherr.New(orcherr.Critical, "executor_no_item", "no current plan item selected by decider")}
	}
	state.NextItemID = ""

	item := &state.Plan[idx]
	item.Status = session.ItemRunning
	started := time.Now()
	item.StartedAt = &started

	if err := e.validateParams(*item); err != nil {
		return e.recordFailure(state, idx, err)
	}

	call, err := e.buildCall(*item, state)
	if err != nil {
		return e.recordFailure(state, idx, err)
	}

	e.emitter.Emit(emit.Event{SessionID: state.SessionID, Step: state.CurrentStep, NodeID: e.Name(), Msg: "step_start", Meta: map[string]interface{}{"action": item.Action, "item_id": item.ID}})

	result, err := e.bridge.Execute(ctx, state.SessionID, state.CurrentStep, call)
	if err != nil {
		return e.recordFailure(state, idx, err)
	}

	completed := time.Now()
	item.Status = session.ItemCompleted
	item.CompletedAt = &completed

	for _, a := range result.Artifacts {
		state.AddArtifact(session.Artifact{
			Path:       a.Path,
			Kind:       inferArtifactKind(a.Path),
			PlanItemID: item.ID,
		})
	}
	state.CurrentStep++

	e.emitter.Emit(emit.Event{SessionID: state.SessionID, Step: state.CurrentStep, NodeID: e.Name(), Msg: "step_completed", Meta: map[string]interface{}{"action": item.Action, "item_id": item.ID, "artifacts": len(result.Artifacts)}})
	return Result{State: state}
}

func (e *Executor) recordFailure(state session.State, idx int, err error) Result {
	item := &state.Plan[idx]
	item.Status = session.ItemFailed
	item.RetryCount++
	state.Retries.Used++

	severity := session.SeverityError
	if oe, ok := err.(*orcherr.Error); ok {
		if oe.Kind == orcherr.Critical {
			severity = session.SeverityCritical
		}
		if !oe.Retryable() && item.MaxRetries > item.RetryCount {
			// Validation/Configuration/Critical failures never retry
			// regardless of the item's configured budget: the params that
			// failed validation won't change on a re-attempt.
			item.MaxRetries = item.RetryCount
		}
	}
	state.AddError(severity, item.ID, err.Error(), nil)

	e.emitter.Emit(emit.Event{SessionID: state.SessionID, Step: state.CurrentStep, NodeID: e.Name(), Msg: "step_failed", Meta: map[string]interface{}{"action": item.Action, "item_id": item.ID, "error": err.Error()}})
	return Result{State: state}
}

// validateParams checks item.Params against the registered schema for its
// action, when a schema registry is configured and the action has one
// registered. Unconfigured actions (or an Executor built without
// WithSchemaRegistry) pass through unchecked.
func (e *Executor) validateParams(item session.PlanItem) error {
	if e.schemas == nil {
		return nil
	}
	name, ok := schemaNameByAction[item.Action]
	if !ok {
		return nil
	}
	s, ok := e.schemas.Get(name)
	if !ok {
		return nil
	}
	return schema.Validate(name, item.Params, s)
}

func (e *Executor) buildCall(item session.PlanItem, state session.State) (bridge.ToolCall, error) {
	toolName, ok := toolNameByAction[item.Action]
	if !ok {
		toolName = item.Action
	}

	args := make(map[string]interface{}, len(item.Params)+1)
	for k, v := range item.Params {
		args[k] = v
	}

	switch item.Action {
	case "img2img", "upscale", "anim":
		if _, has := args["image_path"]; !has {
			path, found := findInputArtifact(state, item, session.KindImage)
			if !found {
				return bridge.ToolCall{}, orcherr.New(orcherr.Validation, "executor_no_input_image", "no input image found for "+item.Action)
			}
			args["image_path"] = path
		}
	case "upload_youtube", "upload_tiktok":
		path, found := findInputArtifact(state, item, session.KindVideo)
		if !found {
			return bridge.ToolCall{}, orcherr.New(orcherr.Validation, "executor_no_input_video", "no video artifact found for "+item.Action)
		}
		args["video_path"] = path
		args["destination"] = platformByAction[item.Action]
	case "upload_instagram":
		path, found := findInputArtifact(state, item, session.KindImage, session.KindVideo)
		if !found {
			return bridge.ToolCall{}, orcherr.New(orcherr.Validation, "executor_no_input_media", "no media artifact found for upload_instagram")
		}
		args["media_path"] = path
		args["destination"] = platformByAction[item.Action]
	}

	return bridge.ToolCall{Name: toolName, Arguments: args}, nil
}

func indexOf(plan []session.PlanItem, id string) int {
	if id == "" {
		return -1
	}
	for i := range plan {
		if plan[i].ID == id {
			return i
		}
	}
	return -1
}

// findInputArtifact looks for an artifact of one of kinds produced by a
// dependency of item first, falling back to the most recent artifact of a
// matching kind anywhere in the session.
func findInputArtifact(state session.State, item session.PlanItem, kinds ...session.ArtifactKind) (string, bool) {
	depSet := make(map[string]bool, len(item.Dependencies))
	for _, d := range item.Dependencies {
		depSet[d] = true
	}
	for _, a := range state.Artifacts {
		if depSet[a.PlanItemID] && matchesKind(a.Kind, kinds) {
			return a.Path, true
		}
	}
	for i := len(state.Artifacts) - 1; i >= 0; i-- {
		if matchesKind(state.Artifacts[i].Kind, kinds) {
			return state.Artifacts[i].Path, true
		}
	}
	return "", false
}

func matchesKind(kind session.ArtifactKind, kinds []session.ArtifactKind) bool {
	for _, k := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// inferArtifactKind derives an artifact's kind from its file extension.
func inferArtifactKind(path string) session.ArtifactKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".tiff":
		return session.KindImage
	case ".mp4", ".avi", ".mov", ".mkv", ".webm":
		return session.KindVideo
	case ".mp3", ".wav", ".flac", ".ogg":
		return session.KindAudio
	case ".pdf", ".txt", ".md", ".docx":
		return session.KindDocument
	default:
		return session.KindUnknown
	}
}
