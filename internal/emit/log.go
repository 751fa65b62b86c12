package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes structured event output to a writer, text or JSONL.
type LogEmitter struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter returns a LogEmitter writing to writer (os.Stdout if nil).
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

func (l *LogEmitter) Emit(event Event) {
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		_, _ = fmt.Fprintf(l.writer, "{\"error\":\"emit marshal failed: %v\"}\n", err)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	_, _ = fmt.Fprintf(l.writer, "[%s] session=%s step=%d node=%s", event.Msg, event.SessionID, event.Step, event.NodeID)
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			_, _ = fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	_, _ = fmt.Fprint(l.writer, "\n")
}

// EmitBatch writes each event in order; LogEmitter has no batching benefit
// beyond avoiding per-call locking in higher layers.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
