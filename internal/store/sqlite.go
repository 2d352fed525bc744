// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists one row per thread with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	logger = logger.With("component", "store", "backend", "sqlite")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS subscriptions (
			thread_id TEXT PRIMARY KEY,
			subscribed INTEGER NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// IsSubscribed reports whether the thread is followed. Unknown threads are not.
func (s *SQLiteStore) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	var subscribed bool
	err := s.db.QueryRowContext(ctx,
		`SELECT subscribed FROM subscriptions WHERE thread_id = ?`, threadID,
	).Scan(&subscribed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying subscription: %w", err)
	}
	return subscribed, nil
}

// SetSubscribed upserts the thread's subscription flag in a single statement.
func (s *SQLiteStore) SetSubscribed(ctx context.Context, threadID string, subscribed bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (thread_id, subscribed, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			subscribed = excluded.subscribed,
			updated_at = excluded.updated_at
	`, threadID, subscribed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// Durable is always true for SQLiteStore.
func (s *SQLiteStore) Durable() bool { return true }

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
