package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/session"
)

// SQLiteStore is a SQLite-backed Delta Checkpoint Store, for deployments
// that want the journal queryable by session without a directory of files.
// Adapted from the teacher's store/sqlite.go WAL-mode single-writer setup,
// with a `checkpoint_deltas` schema in place of its full-state-per-step
// `workflow_steps` table.
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.Mutex
	emitter emit.Emitter
}

// NewSQLiteStore opens (or creates) a SQLite checkpoint database at path.
func NewSQLiteStore(path string, emitter emit.Emitter) (*SQLiteStore, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint: %s: %w", pragma, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS checkpoint_deltas (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts TEXT NOT NULL,
			delta TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: create schema: %w", err)
	}

	return &SQLiteStore{db: db, emitter: emitter}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Read(ctx context.Context, sessionID string) (session.State, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT delta FROM checkpoint_deltas WHERE session_id = ? ORDER BY seq ASC", sessionID)
	if err != nil {
		return session.State{}, false, fmt.Errorf("checkpoint: query deltas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var merged map[string]interface{}
	found := false
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return session.State{}, false, fmt.Errorf("checkpoint: scan delta: %w", err)
		}
		var delta map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &delta); err != nil {
			s.emitter.Emit(emit.Event{SessionID: sessionID, Msg: "checkpoint_corrupt_row", Meta: map[string]interface{}{"error": err.Error()}})
			continue
		}
		merged = applyDelta(merged, delta)
		found = true
	}
	if err := rows.Err(); err != nil {
		return session.State{}, false, fmt.Errorf("checkpoint: iterate rows: %w", err)
	}
	if !found {
		return session.State{}, false, nil
	}
	st, err := fromMap(merged)
	if err != nil {
		return session.State{}, false, fmt.Errorf("checkpoint: decode state: %w", err)
	}
	return st, true, nil
}

func (s *SQLiteStore) Write(ctx context.Context, newState session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, _, found, err := s.readMergedLocked(ctx, newState.SessionID)
	if err != nil {
		return err
	}
	var lastSeq int
	if found {
		lastSeq = -1
		row := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM checkpoint_deltas WHERE session_id = ?", newState.SessionID)
		var maxSeq sql.NullInt64
		if err := row.Scan(&maxSeq); err != nil {
			return fmt.Errorf("checkpoint: max seq: %w", err)
		}
		if maxSeq.Valid {
			lastSeq = int(maxSeq.Int64)
		}
	} else {
		lastSeq = -1
	}

	nextMap, err := toMap(newState)
	if err != nil {
		return fmt.Errorf("checkpoint: encode state: %w", err)
	}
	delta := shallowDiff(cached, nextMap)
	if len(delta) == 0 {
		return nil
	}
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("checkpoint: encode delta: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO checkpoint_deltas (session_id, seq, ts, delta) VALUES (?, ?, ?, ?)",
		newState.SessionID, lastSeq+1, time.Now().UTC().Format(time.RFC3339Nano), string(deltaJSON))
	if err != nil {
		return fmt.Errorf("checkpoint: insert delta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) readMergedLocked(ctx context.Context, sessionID string) (map[string]interface{}, int, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT delta FROM checkpoint_deltas WHERE session_id = ? ORDER BY seq ASC", sessionID)
	if err != nil {
		return nil, 0, false, fmt.Errorf("checkpoint: query deltas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var merged map[string]interface{}
	found := false
	n := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, false, err
		}
		var delta map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &delta); err != nil {
			continue
		}
		merged = applyDelta(merged, delta)
		found = true
		n++
	}
	return merged, n, found, rows.Err()
}
