// ABOUTME: Supervised background work that outlives the HTTP request that started it.
// ABOUTME: Tasks run under a host context and are awaited on shutdown.

package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/morpheus-assistant/internal/metrics"
)

var (
	// ErrClosed is returned by tasks submitted after Shutdown began.
	ErrClosed = errors.New("background host closed")
	// ErrSaturated is returned by tasks submitted while the task limit is reached.
	ErrSaturated = errors.New("background task limit reached")
)

// Func is a unit of background work. ctx is cancelled only when shutdown
// gives up waiting.
type Func func(ctx context.Context) error

// Task is a handle to one unit of background work.
type Task struct {
	ID   string
	Name string

	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's error. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Host runs background tasks and awaits them on shutdown.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	running atomic.Int64
}

// NewHost creates a Host. limit bounds concurrently running tasks; zero or
// negative means unbounded.
func NewHost(limit int, logger *slog.Logger) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "background"),
	}
	if limit > 0 {
		h.group.SetLimit(limit)
	}
	return h
}

// Go starts fn in the background and returns its handle. Go never blocks:
// when the host is closed or saturated the returned task has already
// finished with ErrClosed or ErrSaturated.
func (h *Host) Go(name string, fn Func) *Task {
	task := &Task{
		ID:   uuid.NewString(),
		Name: name,
		done: make(chan struct{}),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		task.finish(ErrClosed)
		return task
	}

	started := h.group.TryGo(func() error {
		h.running.Add(1)
		metrics.BackgroundTasks.Inc()

		start := time.Now()
		err := h.run(task, fn)
		if err != nil {
			h.logger.Error("background task failed",
				"task", task.Name,
				"task_id", task.ID,
				"duration", time.Since(start),
				"error", err,
			)
		} else {
			h.logger.Debug("background task finished",
				"task", task.Name,
				"task_id", task.ID,
				"duration", time.Since(start),
			)
		}
		h.running.Add(-1)
		metrics.BackgroundTasks.Dec()
		task.finish(err)
		// Task errors are reported on the handle and never fail the group.
		return nil
	})
	if !started {
		h.logger.Warn("background task rejected", "task", task.Name, "error", ErrSaturated)
		task.finish(ErrSaturated)
	}
	return task
}

func (h *Host) run(task *Task, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v\n%s", task.Name, r, debug.Stack())
		}
	}()
	return fn(h.ctx)
}

// Running reports how many tasks are currently executing.
func (h *Host) Running() int { return int(h.running.Load()) }

// Shutdown stops accepting tasks and waits for running ones. If ctx ends
// first, the host context is cancelled and ctx's error is returned.
func (h *Host) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		_ = h.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
