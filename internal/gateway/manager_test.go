// ABOUTME: Tests for gateway session bounds, drops and event dispatch.
// ABOUTME: Fake listeners simulate well-behaved, stubborn and failing connections.

package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/morpheus-assistant/internal/background"
	"github.com/2389/morpheus-assistant/internal/chat"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []chat.Event
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev chat.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *recordingDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

// fakeConn serves until ctx ends, emitting events first. If stubborn, it
// ignores both ctx and Close until released.
type fakeConn struct {
	events   []chat.Event
	serveErr error
	stubborn bool
	release  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{release: make(chan struct{}), closed: make(chan struct{})}
}

func (c *fakeConn) Serve(ctx context.Context, emit func(chat.Event)) error {
	for _, ev := range c.events {
		emit(ev)
	}
	if c.serveErr != nil {
		return c.serveErr
	}
	if c.stubborn {
		<-c.release
		return nil
	}
	select {
	case <-ctx.Done():
	case <-c.closed:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeListener struct {
	conn *fakeConn
	err  error
}

func (l *fakeListener) Connect(context.Context) (chat.GatewayConn, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.conn, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, maxDuration, grace time.Duration) (*Manager, *recordingDispatcher, *background.Host) {
	t.Helper()
	host := background.NewHost(0, testLogger())
	d := &recordingDispatcher{}
	m, err := NewManager(Options{MaxDuration: maxDuration, Ceiling: time.Minute, Grace: grace}, d, host, testLogger())
	require.NoError(t, err)
	return m, d, host
}

func waitResult(t *testing.T, s *Session, within time.Duration) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	res, err := s.Wait(ctx)
	require.NoError(t, err, "session did not close in time")
	return res
}

func TestNewManager_DurationMustFitCeiling(t *testing.T) {
	host := background.NewHost(0, testLogger())

	_, err := NewManager(Options{MaxDuration: 800 * time.Second, Ceiling: 800 * time.Second}, &recordingDispatcher{}, host, testLogger())
	assert.Error(t, err)

	_, err = NewManager(Options{MaxDuration: 790 * time.Second, Ceiling: 800 * time.Second, Grace: 15 * time.Second}, &recordingDispatcher{}, host, testLogger())
	assert.Error(t, err)

	_, err = NewManager(Options{MaxDuration: 10 * time.Minute, Ceiling: 800 * time.Second, Grace: 15 * time.Second}, &recordingDispatcher{}, host, testLogger())
	assert.NoError(t, err)
}

func TestStart_RejectsDurationAboveMaximum(t *testing.T) {
	m, _, _ := newTestManager(t, time.Second, 0)
	_, err := m.Start("discord", &fakeListener{conn: newFakeConn()}, 2*time.Second)
	assert.ErrorIs(t, err, ErrDurationTooLong)
}

func TestSession_DrainsAfterDuration(t *testing.T) {
	m, _, _ := newTestManager(t, time.Second, 50*time.Millisecond)
	conn := newFakeConn()

	s, err := m.Start("discord", &fakeListener{conn: conn}, 50*time.Millisecond)
	require.NoError(t, err)

	res := waitResult(t, s, time.Second)
	assert.Equal(t, "draining", res.Outcome)
	assert.Empty(t, res.Error)
	assert.Equal(t, StateClosed, s.State())
	assert.GreaterOrEqual(t, res.DurationMS, int64(50))
}

func TestSession_BoundedEvenIfConnectionIgnoresClose(t *testing.T) {
	const (
		duration = 50 * time.Millisecond
		grace    = 50 * time.Millisecond
	)
	m, _, _ := newTestManager(t, time.Second, grace)
	conn := newFakeConn()
	conn.stubborn = true
	t.Cleanup(func() { close(conn.release) })

	start := time.Now()
	s, err := m.Start("matrix", &fakeListener{conn: conn}, duration)
	require.NoError(t, err)

	res := waitResult(t, s, time.Second)
	elapsed := time.Since(start)

	assert.Equal(t, "draining", res.Outcome)
	assert.Less(t, elapsed, duration+grace+250*time.Millisecond)
}

func TestSession_DropOnTransportFailure(t *testing.T) {
	m, _, _ := newTestManager(t, time.Second, 0)
	conn := newFakeConn()
	conn.serveErr = errors.New("websocket: close 4004")

	s, err := m.Start("discord", &fakeListener{conn: conn}, time.Second)
	require.NoError(t, err)

	res := waitResult(t, s, time.Second)
	assert.Equal(t, "dropped", res.Outcome)
	assert.Contains(t, res.Error, "4004")
}

func TestSession_ConnectFailureIsDropped(t *testing.T) {
	m, _, _ := newTestManager(t, time.Second, 0)

	s, err := m.Start("discord", &fakeListener{err: errors.New("invalid token")}, time.Second)
	require.NoError(t, err)

	res := waitResult(t, s, time.Second)
	assert.Equal(t, "dropped", res.Outcome)
	assert.Contains(t, res.Error, "invalid token")
}

func TestSession_DispatchesEvents(t *testing.T) {
	m, d, host := newTestManager(t, time.Second, 0)
	conn := newFakeConn()
	conn.events = []chat.Event{
		chat.NewMention{Envelope: chat.Envelope{Platform: "discord", ThreadID: "discord:1:2"}},
		chat.NewMention{Envelope: chat.Envelope{Platform: "discord", ThreadID: "discord:1:3"}},
	}

	s, err := m.Start("discord", &fakeListener{conn: conn}, 30*time.Millisecond)
	require.NoError(t, err)

	res := waitResult(t, s, time.Second)
	assert.Equal(t, int64(2), res.Events)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, host.Shutdown(ctx))
	assert.Equal(t, 2, d.Len())
}
