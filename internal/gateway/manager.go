// ABOUTME: Bounded listening sessions for platforms that deliver events over a persistent connection.
// ABOUTME: Each session ends before the host's execution ceiling and reports a terminal state.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/morpheus-assistant/internal/background"
	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/metrics"
)

// ErrDurationTooLong is returned when a requested session duration exceeds
// the configured maximum.
var ErrDurationTooLong = errors.New("session duration exceeds maximum")

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateDraining
	StateDropped
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateDropped:
		return "dropped"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dispatcher receives every event read from a gateway connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev chat.Event)
}

// Options bounds session lifetimes.
type Options struct {
	// MaxDuration is the longest a session may listen.
	MaxDuration time.Duration
	// Ceiling is the host's hard limit for a single invocation.
	Ceiling time.Duration
	// Grace bounds how long closing a connection may take.
	Grace time.Duration
}

// Result summarizes a finished session.
type Result struct {
	SessionID  string    `json:"session_id"`
	Platform   string    `json:"platform"`
	Outcome    string    `json:"outcome"`
	Events     int64     `json:"events"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Session is a running or finished listening session.
type Session struct {
	Platform string
	Duration time.Duration

	task   *background.Task
	events atomic.Int64

	mu     sync.Mutex
	state  State
	result *Result
}

// ID returns the session's background task ID.
func (s *Session) ID() string { return s.task.ID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Wait blocks until the session is closed or ctx is done.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	if err := s.task.Wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, nil
}

// Manager starts bounded gateway sessions on a background host.
type Manager struct {
	opts       Options
	dispatcher Dispatcher
	host       *background.Host
	logger     *slog.Logger
}

// NewManager validates opts and creates a Manager. MaxDuration plus Grace
// must fit strictly inside Ceiling.
func NewManager(opts Options, dispatcher Dispatcher, host *background.Host, logger *slog.Logger) (*Manager, error) {
	if opts.MaxDuration <= 0 {
		return nil, errors.New("gateway max duration must be positive")
	}
	if opts.Grace < 0 {
		return nil, errors.New("gateway grace must not be negative")
	}
	if opts.MaxDuration+opts.Grace >= opts.Ceiling {
		return nil, fmt.Errorf("gateway max duration %s plus grace %s must be less than execution ceiling %s",
			opts.MaxDuration, opts.Grace, opts.Ceiling)
	}
	return &Manager{
		opts:       opts,
		dispatcher: dispatcher,
		host:       host,
		logger:     logger.With("component", "gateway"),
	}, nil
}

// MaxDuration returns the configured maximum session duration.
func (m *Manager) MaxDuration() time.Duration { return m.opts.MaxDuration }

// Start runs a session on the background host. A zero duration uses the
// configured maximum.
func (m *Manager) Start(platform string, listener chat.GatewayListener, duration time.Duration) (*Session, error) {
	if duration <= 0 {
		duration = m.opts.MaxDuration
	}
	if duration > m.opts.MaxDuration {
		return nil, fmt.Errorf("%w: %s > %s", ErrDurationTooLong, duration, m.opts.MaxDuration)
	}

	s := &Session{Platform: platform, Duration: duration}
	ready := make(chan struct{})
	s.task = m.host.Go("gateway:"+platform, func(ctx context.Context) error {
		<-ready
		return m.run(ctx, s, listener)
	})
	close(ready)

	if err := s.task.Err(); err != nil {
		return nil, fmt.Errorf("starting gateway session: %w", err)
	}
	return s, nil
}

func (m *Manager) run(ctx context.Context, s *Session, listener chat.GatewayListener) error {
	logger := m.logger.With("platform", s.Platform, "session_id", s.ID(), "duration", s.Duration)
	started := time.Now()

	sessCtx, cancel := context.WithTimeout(ctx, s.Duration)
	defer cancel()

	s.setState(StateConnecting)
	logger.Info("gateway session connecting")

	var sessErr error
	conn, err := listener.Connect(sessCtx)
	if err != nil {
		sessErr = fmt.Errorf("connecting: %w", err)
		s.setState(StateDropped)
	} else {
		s.setState(StateListening)
		logger.Info("gateway session listening")
		sessErr = m.listen(sessCtx, s, conn, logger)
	}

	final := s.State()
	metrics.GatewaySessions.WithLabelValues(s.Platform, final.String()).Inc()

	result := &Result{
		SessionID:  s.ID(),
		Platform:   s.Platform,
		Outcome:    final.String(),
		Events:     s.events.Load(),
		StartedAt:  started,
		DurationMS: time.Since(started).Milliseconds(),
	}
	if sessErr != nil {
		result.Error = sessErr.Error()
		logger.Warn("gateway session dropped", "error", sessErr, "events", result.Events)
	} else {
		logger.Info("gateway session closed", "outcome", result.Outcome, "events", result.Events)
	}

	s.mu.Lock()
	s.result = result
	s.state = StateClosed
	s.mu.Unlock()
	return nil
}

// listen serves conn until the session deadline or a transport failure,
// then closes it within the grace period.
func (m *Manager) listen(ctx context.Context, s *Session, conn chat.GatewayConn, logger *slog.Logger) error {
	emit := func(ev chat.Event) {
		s.events.Add(1)
		metrics.GatewayEvents.WithLabelValues(s.Platform).Inc()
		m.host.Go("dispatch:"+s.Platform, func(ctx context.Context) error {
			m.dispatcher.Dispatch(ctx, ev)
			return nil
		})
	}

	served := make(chan error, 1)
	go func() { served <- conn.Serve(ctx, emit) }()

	var sessErr error
	select {
	case err := <-served:
		if ctx.Err() != nil {
			s.setState(StateDraining)
		} else {
			s.setState(StateDropped)
			if err == nil {
				err = errors.New("connection closed by remote")
			}
			sessErr = err
		}
		if err := conn.Close(); err != nil {
			logger.Debug("closing gateway connection", "error", err)
		}
		return sessErr
	case <-ctx.Done():
		s.setState(StateDraining)
	}

	if err := conn.Close(); err != nil {
		logger.Debug("closing gateway connection", "error", err)
	}

	grace := time.NewTimer(m.opts.Grace)
	defer grace.Stop()
	select {
	case <-served:
	case <-grace.C:
		logger.Warn("gateway connection did not stop within grace period", "grace", m.opts.Grace)
	}
	return nil
}
