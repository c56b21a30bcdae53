package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"webauth-backend/internal/auth"

	_ "modernc.org/sqlite"
)

// sqliteStateStore records consumed state ids in SQLite so that replays are
// detected across restarts.
type sqliteStateStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateStore opens (or creates) the state ledger at dbPath.
func NewSQLiteStateStore(dbPath string) (StateStore, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS consumed_states (
			id TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create consumed_states table: %w", err)
	}
	db.Exec("CREATE INDEX IF NOT EXISTS idx_consumed_states_expires_at ON consumed_states(expires_at)")

	return &sqliteStateStore{db: db, now: time.Now}, nil
}

var _ auth.StateStore = (*sqliteStateStore)(nil)

// Consume inserts id and reports whether it was not there yet.
func (s *sqliteStateStore) Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	now := s.now().Unix()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM consumed_states WHERE expires_at < ?", now); err != nil {
		return false, fmt.Errorf("failed to purge expired states: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO consumed_states (id, expires_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		id, expiresAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes the database.
func (s *sqliteStateStore) Close() error {
	return s.db.Close()
}
