package emit

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNullEmitter_DiscardsEverything(t *testing.T) {
	e := NewNullEmitter()
	e.Emit(Event{SessionID: "s1", Msg: "node_start"})
	if err := e.EmitBatch(context.Background(), []Event{{SessionID: "s1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogEmitter_TextAndJSON(t *testing.T) {
	t.Run("text mode", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, false)
		e.Emit(Event{SessionID: "s1", Step: 2, NodeID: "executor", Msg: "node_start"})
		out := buf.String()
		if !strings.Contains(out, "[node_start]") || !strings.Contains(out, "session=s1") {
			t.Errorf("unexpected text output: %q", out)
		}
	})

	t.Run("json mode", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, true)
		e.Emit(Event{SessionID: "s1", Msg: "node_end"})
		out := buf.String()
		if !strings.Contains(out, `"Msg":"node_end"`) {
			t.Errorf("unexpected json output: %q", out)
		}
	})

	t.Run("emit batch preserves order", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, false)
		err := e.EmitBatch(context.Background(), []Event{
			{SessionID: "s1", Msg: "a"},
			{SessionID: "s1", Msg: "b"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 || !strings.HasPrefix(lines[0], "[a]") || !strings.HasPrefix(lines[1], "[b]") {
			t.Errorf("unexpected batch output: %v", lines)
		}
	})
}

func TestBufferedEmitter_HistoryBySession(t *testing.T) {
	e := NewBufferedEmitter()
	e.Emit(Event{SessionID: "s1", Msg: "a"})
	e.Emit(Event{SessionID: "s2", Msg: "b"})
	e.Emit(Event{SessionID: "s1", Msg: "c"})

	s1 := e.History("s1")
	if len(s1) != 2 {
		t.Fatalf("expected 2 events for s1, got %d", len(s1))
	}
	e.Clear("s1")
	if len(e.History("s1")) != 0 {
		t.Errorf("expected history cleared for s1")
	}
	if len(e.History("s2")) != 1 {
		t.Errorf("expected s2 history untouched")
	}
}
