// ABOUTME: Tests for background task handles, limits, panics and shutdown.
// ABOUTME: Uses short timeouts; no task sleeps longer than the test needs.

package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHost(limit int) *Host {
	return NewHost(limit, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGo_ReturnsHandle(t *testing.T) {
	h := newTestHost(0)
	boom := errors.New("boom")

	ok := h.Go("ok", func(context.Context) error { return nil })
	bad := h.Go("bad", func(context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, ok.Wait(ctx))
	assert.ErrorIs(t, bad.Wait(ctx), boom)
	assert.NotEmpty(t, ok.ID)
	assert.NotEqual(t, ok.ID, bad.ID)
	assert.Equal(t, "bad", bad.Name)
}

func TestGo_RecoversPanic(t *testing.T) {
	h := newTestHost(0)
	task := h.Go("panicky", func(context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := task.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestGo_TaskOutlivesCallerContext(t *testing.T) {
	h := newTestHost(0)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	release := make(chan struct{})
	task := h.Go("detached", func(ctx context.Context) error {
		<-release
		return ctx.Err()
	})
	cancelReq()
	close(release)

	require.NoError(t, task.Wait(context.Background()))
	assert.Error(t, reqCtx.Err())
}

func TestGo_SaturatedHostRejects(t *testing.T) {
	h := newTestHost(1)
	release := make(chan struct{})
	defer close(release)

	first := h.Go("first", func(context.Context) error { <-release; return nil })
	second := h.Go("second", func(context.Context) error { return nil })

	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Fatal("saturated task did not finish immediately")
	}
	assert.ErrorIs(t, second.Err(), ErrSaturated)
	assert.Nil(t, first.Err())
}

func TestShutdown_WaitsForRunningTasks(t *testing.T) {
	h := newTestHost(0)
	finished := make(chan struct{})
	h.Go("slow", func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	select {
	case <-finished:
	default:
		t.Fatal("shutdown returned before the task finished")
	}
	assert.Zero(t, h.Running())

	late := h.Go("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, late.Err(), ErrClosed)
}

func TestShutdown_TimeoutCancelsTasks(t *testing.T) {
	h := newTestHost(0)
	task := h.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	assert.ErrorIs(t, task.Wait(waitCtx), context.Canceled)
}
