package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/zerobranding/orchestrator/internal/model"
)

func TestChatModel_ReturnsResponsesInOrderThenRepeatsLast(t *testing.T) {
	m := &ChatModel{Responses: []model.ChatOut{{Text: "first"}, {Text: "second"}}}
	ctx := context.Background()

	out1, _ := m.Chat(ctx, nil, nil)
	out2, _ := m.Chat(ctx, nil, nil)
	out3, _ := m.Chat(ctx, nil, nil)

	if out1.Text != "first" || out2.Text != "second" || out3.Text != "second" {
		t.Errorf("unexpected sequence: %q %q %q", out1.Text, out2.Text, out3.Text)
	}
	if m.CallCount() != 3 {
		t.Errorf("expected 3 recorded calls, got %d", m.CallCount())
	}
}

func TestChatModel_ReturnsConfiguredError(t *testing.T) {
	wantErr := errors.New("boom")
	m := &ChatModel{Err: wantErr}
	_, err := m.Chat(context.Background(), nil, nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected configured error, got %v", err)
	}
}

func TestChatModel_RespectsContextCancellation(t *testing.T) {
	m := &ChatModel{Responses: []model.ChatOut{{Text: "x"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Chat(ctx, nil, nil)
	if err == nil {
		t.Errorf("expected cancellation error")
	}
	if m.CallCount() != 0 {
		t.Errorf("expected no call recorded when context already cancelled")
	}
}
