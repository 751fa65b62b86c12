package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists one token-bucket row per tool, matching spec.md §6's
// schema `(tool TEXT PRIMARY KEY, tokens REAL, updated_at REAL)`. Use this
// when the rate limit must be shared across processes; Limiter above
// suffices within one process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite rate-limit database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ratelimit: %s: %w", pragma, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS rate_limits (
			tool TEXT PRIMARY KEY,
			tokens REAL NOT NULL,
			updated_at REAL NOT NULL
		)
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ratelimit: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Acquire replenishes, waits, and decrements the persisted bucket for tool,
// following the same formula as Limiter but against a shared table instead
// of an in-memory bucket.
func (s *SQLiteStore) Acquire(ctx context.Context, tool string, rate float64) error {
	if rate <= 0 {
		rate = DefaultRate
	}
	for {
		tokens, updatedAt, err := s.readOrInit(ctx, tool, rate)
		if err != nil {
			return err
		}

		now := float64(time.Now().UnixNano()) / 1e9
		tokens = minf(rate, tokens+(now-updatedAt)*rate)

		if tokens >= 1 {
			tokens--
			if _, err := s.db.ExecContext(ctx,
				"UPDATE rate_limits SET tokens = ?, updated_at = ? WHERE tool = ?",
				tokens, now, tool); err != nil {
				return fmt.Errorf("ratelimit: persist tokens: %w", err)
			}
			return nil
		}

		if _, err := s.db.ExecContext(ctx,
			"UPDATE rate_limits SET tokens = ?, updated_at = ? WHERE tool = ?",
			tokens, now, tool); err != nil {
			return fmt.Errorf("ratelimit: persist tokens: %w", err)
		}

		wait := (1 - tokens) / rate
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(wait * float64(time.Second))):
		}
	}
}

func (s *SQLiteStore) readOrInit(ctx context.Context, tool string, rate float64) (float64, float64, error) {
	row := s.db.QueryRowContext(ctx, "SELECT tokens, updated_at FROM rate_limits WHERE tool = ?", tool)
	var tokens, updatedAt float64
	err := row.Scan(&tokens, &updatedAt)
	if err == nil {
		return tokens, updatedAt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("ratelimit: read bucket: %w", err)
	}

	now := float64(time.Now().UnixNano()) / 1e9
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO rate_limits (tool, tokens, updated_at) VALUES (?, ?, ?)",
		tool, rate, now)
	if err != nil {
		// Another writer may have raced us to initialize the row; read it.
		row := s.db.QueryRowContext(ctx, "SELECT tokens, updated_at FROM rate_limits WHERE tool = ?", tool)
		if scanErr := row.Scan(&tokens, &updatedAt); scanErr == nil {
			return tokens, updatedAt, nil
		}
		return 0, 0, fmt.Errorf("ratelimit: init bucket: %w", err)
	}
	return rate, now, nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
