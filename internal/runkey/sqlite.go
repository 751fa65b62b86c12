package runkey

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Run-Key Store, matching the schema in
// spec.md §6: `(key TEXT PRIMARY KEY, result_json TEXT, created_at TS)`.
// Grounded on original_source/ai/graph/bridge.py's run_keys table and the
// teacher's store/sqlite.go connection setup.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite run-key database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runkey: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("runkey: %s: %w", pragma, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS run_keys (
			key TEXT PRIMARY KEY,
			result_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runkey: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT result_json FROM run_keys WHERE key = ?", key)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("runkey: get: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false, fmt.Errorf("runkey: decode payload: %w", err)
	}
	return payload, true, nil
}

// Put inserts key→payload; on a uniqueness conflict it reads back the
// canonical (first-writer) payload instead of overwriting.
func (s *SQLiteStore) Put(ctx context.Context, key string, payload map[string]interface{}) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("runkey: encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO run_keys (key, result_json, created_at) VALUES (?, ?, ?)",
		key, string(payloadJSON), time.Now().UTC().Format(time.RFC3339Nano))
	if err == nil {
		return payload, nil
	}

	// Conflict: another writer already holds this key. Read back the
	// canonical value rather than propagating the constraint error.
	canonical, found, getErr := s.Get(ctx, key)
	if getErr != nil {
		return nil, fmt.Errorf("runkey: insert failed (%v) and read-back failed: %w", err, getErr)
	}
	if !found {
		return nil, fmt.Errorf("runkey: insert failed and no canonical row found: %w", err)
	}
	return canonical, nil
}
