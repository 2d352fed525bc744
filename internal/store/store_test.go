// ABOUTME: Tests for the Store backends and backend selection
// ABOUTME: Redis and Postgres tests run only when REDIS_URL / DATABASE_URL are set

package store

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/morpheus-assistant/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// exerciseStore runs the behavior every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	id := "slack:C1:1715712345.000100"

	subscribed, err := s.IsSubscribed(ctx, id)
	require.NoError(t, err)
	assert.False(t, subscribed, "unknown threads are not subscribed")

	require.NoError(t, s.SetSubscribed(ctx, id, true))
	require.NoError(t, s.SetSubscribed(ctx, id, true))

	subscribed, err = s.IsSubscribed(ctx, id)
	require.NoError(t, err)
	assert.True(t, subscribed)

	other, err := s.IsSubscribed(ctx, "slack:C1:other")
	require.NoError(t, err)
	assert.False(t, other)

	require.NoError(t, s.SetSubscribed(ctx, id, false))
	require.NoError(t, s.SetSubscribed(ctx, id, false))

	subscribed, err = s.IsSubscribed(ctx, id)
	require.NoError(t, err)
	assert.False(t, subscribed)
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
	assert.True(t, s.Durable())
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newTestStore(t))
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath, discardLogger())
	require.NoError(t, err)
	require.NoError(t, s.SetSubscribed(ctx, "discord:42", true))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(dbPath, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	subscribed, err := s.IsSubscribed(ctx, "discord:42")
	require.NoError(t, err)
	assert.True(t, subscribed)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_IdempotentWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SetSubscribed(ctx, "matrix:!a:b", true))
	require.NoError(t, s.SetSubscribed(ctx, "matrix:!a:b", true))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Writes())
	assert.False(t, s.Durable())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.SetSubscribed(ctx, "slack:C1:1", true)
			_, _ = s.IsSubscribed(ctx, "slack:C1:1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	s, err := NewRedisStore(context.Background(), url, "morpheus-assistant-test-"+t.Name(), discardLogger())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url, discardLogger())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpen_AutoFallsBackToMemory(t *testing.T) {
	s, err := Open(context.Background(), config.StateConfig{}, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &MemoryStore{}, s)
	assert.False(t, s.Durable())
}

func TestOpen_RequireDurableRejectsMemory(t *testing.T) {
	_, err := Open(context.Background(), config.StateConfig{RequireDurable: true}, discardLogger())
	assert.ErrorIs(t, err, ErrVolatileState)

	_, err = Open(context.Background(), config.StateConfig{Backend: config.BackendMemory, RequireDurable: true}, discardLogger())
	assert.ErrorIs(t, err, ErrVolatileState)
}

func TestOpen_SQLite(t *testing.T) {
	s, err := Open(context.Background(), config.StateConfig{
		Backend:        config.BackendSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "state.db"),
		RequireDurable: true,
	}, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Durable())
}

func TestOpen_LogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s, err := Open(context.Background(), config.StateConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "state.db"),
	}, logger)
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, buf.String(), "SQLite store initialized")
	assert.Contains(t, buf.String(), "backend=sqlite")
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StateConfig{Backend: "etcd"}, discardLogger())
	assert.Error(t, err)
}
