// Package runkey implements the Run-Key Store: a durable key→payload map
// providing at-most-one observed effect per logical step invocation, keyed
// `session_id:action:step_index` per spec.
//
// Grounded on original_source/ai/graph/bridge.py's SQLite run_keys table and
// insert-then-read-back-canonical pattern, adapted to Go.
package runkey

import (
	"context"
	"strconv"
	"time"
)

// Key formats the run-key for a logical step invocation.
func Key(sessionID, action string, stepIndex int) string {
	return sessionID + ":" + action + ":" + strconv.Itoa(stepIndex)
}

// Record is a cached invocation result.
type Record struct {
	Key       string
	Payload   map[string]interface{}
	CreatedAt time.Time
}

// Store is the Run-Key Store contract.
type Store interface {
	// Get returns the cached payload for key, or found=false.
	Get(ctx context.Context, key string) (map[string]interface{}, bool, error)

	// Put inserts key→payload if absent. A duplicate insert is a benign
	// no-op: the returned payload is always the first-writer's (canonical)
	// value, not necessarily the one passed in.
	Put(ctx context.Context, key string, payload map[string]interface{}) (canonical map[string]interface{}, err error)
}
