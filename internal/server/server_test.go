// ABOUTME: Tests for webhook ingress, the gateway endpoint and health routes
// ABOUTME: Runs the chi router through httptest with recording adapters

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/morpheus-assistant/internal/background"
	"github.com/2389/morpheus-assistant/internal/bot"
	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/chat/chattest"
	"github.com/2389/morpheus-assistant/internal/config"
	"github.com/2389/morpheus-assistant/internal/gateway"
	"github.com/2389/morpheus-assistant/internal/store"
)

const secret = "cron-secret"

type idleListener struct {
	connects int
	mu       sync.Mutex
}

func (l *idleListener) Connect(context.Context) (chat.GatewayConn, error) {
	l.mu.Lock()
	l.connects++
	l.mu.Unlock()
	return idleConn{}, nil
}

type idleConn struct{}

func (idleConn) Serve(ctx context.Context, _ func(chat.Event)) error {
	<-ctx.Done()
	return nil
}

func (idleConn) Close() error { return nil }

type harness struct {
	server   *Server
	host     *background.Host
	mentions chan chat.Message
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, gatewaySecret string, adapters ...chat.Adapter) *harness {
	t.Helper()
	return newLimitedHarness(t, gatewaySecret, 0, adapters...)
}

func newLimitedHarness(t *testing.T, gatewaySecret string, taskLimit int, adapters ...chat.Adapter) *harness {
	t.Helper()
	logger := testLogger()

	registry := make(map[string]chat.Adapter)
	for _, a := range adapters {
		registry[a.Name()] = a
	}
	b := bot.New(bot.Options{UserName: "morpheus", Adapters: registry, Store: store.NewMemoryStore()}, logger)

	mentions := make(chan chat.Message, 8)
	b.OnNewMention(func(_ context.Context, _ *bot.Thread, msg chat.Message) error {
		mentions <- msg
		return nil
	})

	host := background.NewHost(taskLimit, logger)
	t.Cleanup(func() { _ = host.Shutdown(context.Background()) })
	mgr, err := gateway.NewManager(gateway.Options{
		MaxDuration: time.Second,
		Ceiling:     5 * time.Second,
		Grace:       100 * time.Millisecond,
	}, b, host, logger)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Gateway.Secret = gatewaySecret
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"

	srv := New(Options{Config: cfg, Bot: b, Host: host, Gateways: mgr, Store: store.NewMemoryStore()}, logger)
	return &harness{server: srv, host: host, mentions: mentions}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func mentionEvent() chat.Event {
	return chat.MessageReceived{
		Envelope:  chat.Envelope{Platform: "slack", ThreadID: "slack:C1:1.0", EventID: "E1"},
		Message:   chat.Message{ID: "1.0", ThreadID: "slack:C1:1.0", Text: "hi", Author: chat.Author{ID: "U1"}},
		Mentioned: true,
	}
}

func TestWebhook_UnknownPlatform(t *testing.T) {
	slack := chattest.New("slack").WithWebhook(func(*http.Request) (*chat.WebhookResult, error) {
		return &chat.WebhookResult{Events: []chat.Event{mentionEvent()}}, nil
	})
	h := newHarness(t, secret, slack)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/foo", strings.NewReader("{}")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown platform: foo")
	require.NoError(t, h.host.Shutdown(context.Background()))
	assert.Empty(t, h.mentions)
	assert.Empty(t, slack.Posts())
}

func TestWebhook_AdapterWithoutWebhook(t *testing.T) {
	h := newHarness(t, secret, chattest.New("matrix"))

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/matrix", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"authentication", chat.ErrAuthentication, http.StatusUnauthorized},
		{"unsupported", chat.ErrUnsupportedEvent, http.StatusOK},
		{"malformed", errors.New("decoding payload: unexpected EOF"), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := chattest.New("slack").WithWebhook(func(*http.Request) (*chat.WebhookResult, error) {
				return nil, tt.err
			})
			h := newHarness(t, secret, a)

			rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))

			assert.Equal(t, tt.want, rec.Code)
			require.NoError(t, h.host.Shutdown(context.Background()))
			assert.Empty(t, h.mentions)
		})
	}
}

func TestWebhook_AcknowledgesAndDispatches(t *testing.T) {
	a := chattest.New("slack").WithWebhook(func(*http.Request) (*chat.WebhookResult, error) {
		return &chat.WebhookResult{
			Events:      []chat.Event{mentionEvent()},
			Body:        []byte("challenge-token"),
			ContentType: "text/plain",
		}, nil
	})
	h := newHarness(t, secret, a)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "challenge-token", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	select {
	case msg := <-h.mentions:
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not dispatched")
	}
}

func TestWebhook_RejectedAfterShutdown(t *testing.T) {
	a := chattest.New("slack").WithWebhook(func(*http.Request) (*chat.WebhookResult, error) {
		return &chat.WebhookResult{Events: []chat.Event{mentionEvent()}}, nil
	})
	h := newHarness(t, secret, a)
	require.NoError(t, h.host.Shutdown(context.Background()))

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhook_MultiEventDeliveryIsAllOrNothing(t *testing.T) {
	second := mentionEvent().(chat.MessageReceived)
	second.EventID = "E2"
	second.Message.ID = "2.0"
	second.Message.Text = "again"

	a := chattest.New("slack").WithWebhook(func(*http.Request) (*chat.WebhookResult, error) {
		return &chat.WebhookResult{Events: []chat.Event{mentionEvent(), second}}, nil
	})
	h := newLimitedHarness(t, secret, 1, a)

	release := make(chan struct{})
	blocker := h.host.Go("blocker", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, blocker.Err())

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, h.mentions, "no event from a rejected delivery is dispatched")

	close(release)
	// A rejected delivery dispatches nothing, so retrying until the slot frees is safe.
	require.Eventually(t, func() bool {
		rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/slack", strings.NewReader("{}")))
		return rec.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	for _, want := range []string{"hi", "again"} {
		select {
		case msg := <-h.mentions:
			assert.Equal(t, want, msg.Text)
		case <-time.After(2 * time.Second):
			t.Fatalf("event %q was not dispatched", want)
		}
	}
}

func gatewayRequest(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestGateway_Authorization(t *testing.T) {
	listener := &idleListener{}
	a := chattest.New("discord").WithGateway(listener)

	t.Run("no secret configured", func(t *testing.T) {
		h := newHarness(t, "", a)
		rec := h.do(gatewayRequest("/gateway/discord", "anything"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		h := newHarness(t, secret, a)
		rec := h.do(gatewayRequest("/gateway/discord", "wrong"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		h := newHarness(t, secret, a)
		rec := h.do(gatewayRequest("/gateway/discord", ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Zero(t, listener.connects)
}

func TestGateway_NoCapability(t *testing.T) {
	h := newHarness(t, secret, chattest.New("slack"))

	assert.Equal(t, http.StatusNotFound, h.do(gatewayRequest("/gateway/slack", secret)).Code)
	assert.Equal(t, http.StatusNotFound, h.do(gatewayRequest("/gateway/foo", secret)).Code)
}

func TestGateway_RunsSessionAndReportsResult(t *testing.T) {
	listener := &idleListener{}
	h := newHarness(t, secret, chattest.New("discord").WithGateway(listener))

	rec := h.do(gatewayRequest("/gateway/discord?duration=50ms", secret))

	require.Equal(t, http.StatusOK, rec.Code)
	var res gateway.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "discord", res.Platform)
	assert.Equal(t, "draining", res.Outcome)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 1, listener.connects)
}

func TestGateway_Async(t *testing.T) {
	h := newHarness(t, secret, chattest.New("discord").WithGateway(&idleListener{}))

	rec := h.do(gatewayRequest("/gateway/discord?duration=50ms&async=1", secret))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["session_id"])
	assert.EqualValues(t, 50, body["duration_ms"])
}

func TestGateway_BadDuration(t *testing.T) {
	h := newHarness(t, secret, chattest.New("discord").WithGateway(&idleListener{}))

	assert.Equal(t, http.StatusBadRequest, h.do(gatewayRequest("/gateway/discord?duration=soon", secret)).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(gatewayRequest("/gateway/discord?duration=1h", secret)).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, secret, chattest.New("slack"))

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"slack"}, body["platforms"])
	assert.Equal(t, false, body["durable_state"])

	rec = h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "morpheus_assistant_http_requests_total")
}
