package tool

import (
	"context"
	"errors"
	"testing"
)

func TestMockTool_ReturnsResponsesInOrderThenRepeatsLast(t *testing.T) {
	m := &MockTool{ToolName: "generate_image", Responses: []map[string]interface{}{
		{"image_path": "/a.png"},
		{"image_path": "/b.png"},
	}}
	ctx := context.Background()

	out1, _ := m.Call(ctx, nil)
	out2, _ := m.Call(ctx, nil)
	out3, _ := m.Call(ctx, nil)

	if out1["image_path"] != "/a.png" || out2["image_path"] != "/b.png" || out3["image_path"] != "/b.png" {
		t.Errorf("unexpected sequence: %v %v %v", out1, out2, out3)
	}
	if m.CallCount() != 3 {
		t.Errorf("expected 3 calls, got %d", m.CallCount())
	}
}

func TestMockTool_ReturnsConfiguredError(t *testing.T) {
	wantErr := errors.New("backend down")
	m := &MockTool{ToolName: "upscale_image", Err: wantErr}
	_, err := m.Call(context.Background(), nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected configured error, got %v", err)
	}
}

func TestMockTool_RecordsCallInputs(t *testing.T) {
	m := &MockTool{ToolName: "generate_speech"}
	input := map[string]interface{}{"text": "hello"}
	m.Call(context.Background(), input)

	calls := m.Calls()
	if len(calls) != 1 || calls[0]["text"] != "hello" {
		t.Errorf("expected recorded call input %v, got %v", input, calls)
	}
}

func TestMockTool_RespectsContextCancellation(t *testing.T) {
	m := &MockTool{ToolName: "x"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Call(ctx, nil)
	if err == nil {
		t.Error("expected cancellation error")
	}
	if m.CallCount() != 0 {
		t.Error("expected no call recorded when context already cancelled")
	}
}
