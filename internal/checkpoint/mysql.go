package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/session"
)

// MySQLStore is a MySQL-backed Delta Checkpoint Store, for deployments
// sharing a checkpoint journal across multiple orchestrator processes.
// Unlike FileStore, cross-process writers are safe here: the database
// enforces the per-session sequence uniqueness, not an in-process mutex.
// Adapted from the teacher's store/mysql.go connection/schema setup.
type MySQLStore struct {
	db      *sql.DB
	mu      sync.Mutex
	emitter emit.Emitter
}

// NewMySQLStore opens a MySQL checkpoint store using dsn (a
// go-sql-driver/mysql data source name) and ensures its schema exists.
func NewMySQLStore(ctx context.Context, dsn string, emitter emit.Emitter) (*MySQLStore, error) {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: ping mysql: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS checkpoint_deltas (
			session_id VARCHAR(128) NOT NULL,
			seq INT NOT NULL,
			ts VARCHAR(64) NOT NULL,
			delta_json MEDIUMTEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: create schema: %w", err)
	}

	return &MySQLStore{db: db, emitter: emitter}, nil
}

// Close releases the underlying database handle.
func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) Read(ctx context.Context, sessionID string) (session.State, bool, error) {
	merged, found, err := s.mergedDeltas(ctx, sessionID)
	if err != nil {
		return session.State{}, false, err
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

func (s *MySQLStore) Write(ctx context.Context, newState session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, found, err := s.mergedDeltas(ctx, newState.SessionID)
	if err != nil {
		return err
	}

	lastSeq := -1
	if found {
		row := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM checkpoint_deltas WHERE session_id = ?", newState.SessionID)
		var maxSeq sql.NullInt64
		if err := row.Scan(&maxSeq); err != nil {
			return fmt.Errorf("checkpoint: max seq: %w", err)
		}
		if maxSeq.Valid {
			lastSeq = int(maxSeq.Int64)
		}
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
		"INSERT INTO checkpoint_deltas (session_id, seq, ts, delta_json) VALUES (?, ?, ?, ?)",
		newState.SessionID, lastSeq+1, time.Now().UTC().Format(time.RFC3339Nano), string(deltaJSON))
	if err != nil {
		return fmt.Errorf("checkpoint: insert delta: %w", err)
	}
	return nil
}

func (s *MySQLStore) mergedDeltas(ctx context.Context, sessionID string) (map[string]interface{}, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT delta_json FROM checkpoint_deltas WHERE session_id = ? ORDER BY seq ASC", sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("checkpoint: query deltas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var merged map[string]interface{}
	found := false
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, false, err
		}
		var delta map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &delta); err != nil {
			s.emitter.Emit(emit.Event{SessionID: sessionID, Msg: "checkpoint_corrupt_row", Meta: map[string]interface{}{"error": err.Error()}})
			continue
		}
		merged = applyDelta(merged, delta)
		found = true
	}
	return merged, found, rows.Err()
}
