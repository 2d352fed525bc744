// ABOUTME: Redis implementation of the Store interface using go-redis
// ABOUTME: Followed threads are members of a single Redis set

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps followed thread IDs in a Redis set. SADD and SREM are
// idempotent, so concurrent workers never need a transaction.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at url and verifies the
// connection with PING. prefix namespaces the set key.
func NewRedisStore(ctx context.Context, url, prefix string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger = logger.With("component", "store", "backend", "redis")
	logger.Info("Redis store initialized", "addr", opts.Addr, "db", opts.DB)

	return &RedisStore{
		client: client,
		key:    prefix + ":subscriptions",
		logger: logger,
	}, nil
}

// IsSubscribed reports whether the thread is a member of the set.
func (s *RedisStore) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, threadID).Result()
	if err != nil {
		return false, fmt.Errorf("querying subscription: %w", err)
	}
	return ok, nil
}

// SetSubscribed adds or removes the thread from the set.
func (s *RedisStore) SetSubscribed(ctx context.Context, threadID string, subscribed bool) error {
	var err error
	if subscribed {
		err = s.client.SAdd(ctx, s.key, threadID).Err()
	} else {
		err = s.client.SRem(ctx, s.key, threadID).Err()
	}
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

// Durable is always true for RedisStore.
func (s *RedisStore) Durable() bool { return true }

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
