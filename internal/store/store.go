// ABOUTME: Store interface for per-thread subscription state
// ABOUTME: Implemented by memory, SQLite, Redis and Postgres backends

package store

import (
	"context"
	"errors"
)

// ErrVolatileState is returned by Open when a durable backend is required
// but none is configured
var ErrVolatileState = errors.New("durable state backend required but none configured")

// Store records which threads the bot is following. Both operations are
// atomic and idempotent; setting the current value again is a no-op.
type Store interface {
	IsSubscribed(ctx context.Context, threadID string) (bool, error)
	SetSubscribed(ctx context.Context, threadID string, subscribed bool) error

	// Durable reports whether state survives restarts and is shared
	// between processes.
	Durable() bool
	Close() error
}
