package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zerobranding/orchestrator/internal/orcherr"
)

// HTTPTool invokes a named backend worker service (the Stable Diffusion
// service, the animation service, the ASR/TTS services, the per-platform
// upload services, ...) by POSTing the step's params as JSON to
// baseURL+"/"+name and decoding the JSON response body as the output map.
//
// Adapted from the teacher's graph/tool.HTTPTool, which modeled a single
// generic HTTP-fetch tool; here every concrete tool is instead a thin
// client of one backend microservice, matching original_source's
// services.sd_service/anim_service/asr_service/voice_service/
// youtube_service/tiktok_service/instagram_service split.
type HTTPTool struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPTool returns an HTTPTool named name, targeting baseURL. timeout
// of zero uses the http.Client's default (no client-level timeout;
// callers are expected to bound requests via context instead).
func NewHTTPTool(name, baseURL string, timeout time.Duration) *HTTPTool {
	return &HTTPTool{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (h *HTTPTool) Name() string { return h.name }

// Call POSTs input as JSON to baseURL/name and returns the decoded JSON
// response body. A non-2xx response is reported as an External-tool
// orcherr.Error carrying the response body as context.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Validation, "tool_input_not_serializable", fmt.Sprintf("%s: input could not be marshaled to JSON", h.name), err)
	}

	url := h.baseURL + "/" + h.name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.Configuration, "tool_request_build_failed", fmt.Sprintf("%s: failed to build request", h.name), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ExternalTool, "tool_request_failed", fmt.Sprintf("%s: request to backend service failed", h.name), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.ExternalTool, "tool_response_read_failed", fmt.Sprintf("%s: failed to read backend response", h.name), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, orcherr.New(orcherr.ExternalTool, "tool_backend_error", fmt.Sprintf("%s: backend returned status %d: %s", h.name, resp.StatusCode, string(body)))
	}

	if len(body) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, orcherr.Wrap(orcherr.ExternalTool, "tool_response_not_json", fmt.Sprintf("%s: backend response was not valid JSON", h.name), err)
	}
	return out, nil
}
