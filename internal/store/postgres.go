// ABOUTME: Postgres implementation of the Store interface using pgx
// ABOUTME: Same single-table layout as the SQLite backend

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to Postgres and creates the schema if needed.
func NewPostgresStore(ctx context.Context, url string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With("component", "store", "backend", "postgres"),
	}

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			thread_id TEXT PRIMARY KEY,
			subscribed BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

// IsSubscribed reports whether the thread is followed. Unknown threads are not.
func (s *PostgresStore) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	var subscribed bool
	err := s.pool.QueryRow(ctx,
		`SELECT subscribed FROM subscriptions WHERE thread_id = $1`, threadID,
	).Scan(&subscribed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying subscription: %w", err)
	}
	return subscribed, nil
}

// SetSubscribed upserts the thread's subscription flag.
func (s *PostgresStore) SetSubscribed(ctx context.Context, threadID string, subscribed bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (thread_id, subscribed, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			subscribed = EXCLUDED.subscribed,
			updated_at = EXCLUDED.updated_at
	`, threadID, subscribed)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// Durable is always true for PostgresStore.
func (s *PostgresStore) Durable() bool { return true }

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
