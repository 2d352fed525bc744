// ABOUTME: Backend selection for the subscription store
// ABOUTME: Resolved once at startup from configuration

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/morpheus-assistant/internal/config"
)

// Open creates the Store selected by cfg.
//
// An empty backend picks Redis when a Redis URL is configured and falls back
// to the in-memory store otherwise. The fallback logs a warning, or fails
// with ErrVolatileState when cfg.RequireDurable is set.
func Open(ctx context.Context, cfg config.StateConfig, logger *slog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == config.BackendAuto {
		backend = config.BackendMemory
		if cfg.RedisURL != "" {
			backend = config.BackendRedis
		}
	}

	switch backend {
	case config.BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL, cfg.KeyPrefix, logger)
	case config.BackendSQLite:
		return NewSQLiteStore(cfg.SQLitePath, logger)
	case config.BackendPostgres:
		return NewPostgresStore(ctx, cfg.PostgresURL, logger)
	case config.BackendMemory:
		if cfg.RequireDurable {
			return nil, ErrVolatileState
		}
		logger.Warn("using in-memory subscription state; subscriptions are lost on restart and not shared between instances")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
