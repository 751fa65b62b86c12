// Package checkpoint implements the Delta Checkpoint Store: an append-only
// per-session journal that reconstructs the latest session.State by
// replaying deltas, with atomic tmp+rename writes.
//
// The interface generalizes the teacher's store.Store[S] (SaveStep/
// LoadLatest) from arbitrary generic state to the concrete session.State,
// and from full-state-per-step persistence to delta-only persistence.
package checkpoint

import (
	"context"

	"github.com/zerobranding/orchestrator/internal/session"
)

// Record is one journal line: the delta written at a given sequence number.
type Record struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"ts"`
	Delta     map[string]interface{} `json:"delta"`
}

// Store is the Delta Checkpoint Store contract. Implementations must
// serialize writes per session and make a write either fully visible or
// fully invisible across a crash.
type Store interface {
	// Read reconstructs the latest state for a session by replaying all
	// deltas in order. Returns (state, false, nil) if the session has no
	// recorded checkpoints.
	Read(ctx context.Context, sessionID string) (session.State, bool, error)

	// Write computes a shallow key-wise diff of newState against the last
	// cached state and appends it if non-empty. A no-op diff appends
	// nothing.
	Write(ctx context.Context, newState session.State) error
}
