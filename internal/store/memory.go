// ABOUTME: In-memory Store implementation used as the volatile fallback and in tests
// ABOUTME: Process-local only: state is lost on restart and not shared between workers

package store

import (
	"context"
	"sync"
)

// MemoryStore keeps subscription state in a map guarded by a mutex.
//
// It is not safe for multi-instance deployments: each process sees only the
// subscriptions it created itself.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]bool
	writes  int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]bool)}
}

// IsSubscribed reports whether the thread is followed.
func (m *MemoryStore) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threads[threadID], nil
}

// SetSubscribed records the thread's subscription flag. Unsubscribed
// threads are removed so the map only grows with followed threads.
func (m *MemoryStore) SetSubscribed(ctx context.Context, threadID string, subscribed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.threads[threadID] == subscribed {
		return nil
	}
	m.writes++
	if subscribed {
		m.threads[threadID] = true
	} else {
		delete(m.threads, threadID)
	}
	return nil
}

// Len returns the number of followed threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// Writes returns how many calls changed state.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Durable is always false for MemoryStore.
func (m *MemoryStore) Durable() bool { return false }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
