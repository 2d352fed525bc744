// ABOUTME: HTTP ingress for platform webhooks and scheduled gateway sessions
// ABOUTME: Manages listeners (TCP or Tailscale), graceful shutdown and health endpoints

package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/morpheus-assistant/internal/auth"
	"github.com/2389/morpheus-assistant/internal/background"
	"github.com/2389/morpheus-assistant/internal/bot"
	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
	"github.com/2389/morpheus-assistant/internal/dedupe"
	"github.com/2389/morpheus-assistant/internal/gateway"
	"github.com/2389/morpheus-assistant/internal/metrics"
	"github.com/2389/morpheus-assistant/internal/store"
)

// Options wires the server to the rest of the process.
type Options struct {
	Config   *config.Config
	Bot      *bot.Bot
	Host     *background.Host
	Gateways *gateway.Manager
	Store    store.Store
	// Dedupe is closed on shutdown when set.
	Dedupe *dedupe.Cache
}

// Server routes inbound HTTP traffic to the bot.
type Server struct {
	config      *config.Config
	bot         *bot.Bot
	host        *background.Host
	gateways    *gateway.Manager
	store       store.Store
	dedupe      *dedupe.Cache
	router      chi.Router
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates a Server and registers its routes.
func New(opts Options, logger *slog.Logger) *Server {
	s := &Server{
		config:   opts.Config,
		bot:      opts.Bot,
		host:     opts.Host,
		gateways: opts.Gateways,
		store:    opts.Store,
		dedupe:   opts.Dedupe,
		logger:   logger.With("component", "server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		r.Method(http.MethodGet, s.config.Metrics.Path, promhttp.Handler())
	}
	r.Post("/webhooks/{platform}", s.handleWebhook)
	r.With(auth.RequireBearer(s.config.Gateway.Secret)).Get("/gateway/{platform}", s.handleGateway)

	s.router = r
	s.httpServer = &http.Server{
		Addr:              s.config.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// handleWebhook verifies and acknowledges a platform webhook. Events are
// dispatched on the background host so the platform gets its ack promptly.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	logger := s.logger.With("platform", platform)

	var receiver chat.WebhookReceiver
	if a, ok := s.bot.Adapter(platform); ok {
		receiver = a.Capabilities().Webhook
	}
	if receiver == nil {
		metrics.WebhookResults.WithLabelValues("unknown", "unknown_platform").Inc()
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown platform: %s", platform))
		return
	}

	res, err := receiver.ParseWebhook(r)
	switch {
	case errors.Is(err, chat.ErrAuthentication):
		metrics.WebhookResults.WithLabelValues(platform, "unauthorized").Inc()
		logger.Warn("webhook authentication failed", "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	case errors.Is(err, chat.ErrUnsupportedEvent):
		metrics.WebhookResults.WithLabelValues(platform, "unsupported").Inc()
		logger.Debug("ignoring unsupported webhook", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	case err != nil:
		metrics.WebhookResults.WithLabelValues(platform, "invalid").Inc()
		logger.Warn("malformed webhook", "error", err)
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	// One task per delivery: the host admits or rejects all of its events
	// together, so a 503 never follows a partial dispatch.
	if len(res.Events) > 0 {
		events := res.Events
		task := s.host.Go("dispatch:"+platform, func(ctx context.Context) error {
			for _, ev := range events {
				s.bot.Dispatch(ctx, ev)
			}
			return nil
		})
		if err := task.Err(); errors.Is(err, background.ErrClosed) || errors.Is(err, background.ErrSaturated) {
			metrics.WebhookResults.WithLabelValues(platform, "rejected").Inc()
			logger.Warn("webhook events not dispatched", "events", len(events), "error", err)
			writeError(w, http.StatusServiceUnavailable, "busy")
			return
		}
	}
	metrics.WebhookResults.WithLabelValues(platform, "accepted").Inc()

	if len(res.Body) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	if res.ContentType != "" {
		w.Header().Set("Content-Type", res.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

// handleGateway runs one bounded listening session. The response is the
// session summary; with ?async=1 it returns as soon as the session starts.
func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")

	var listener chat.GatewayListener
	if a, ok := s.bot.Adapter(platform); ok {
		listener = a.Capabilities().Gateway
	}
	if listener == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no gateway for platform: %s", platform))
		return
	}

	var duration time.Duration
	if raw := r.URL.Query().Get("duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid duration: %q", raw))
			return
		}
		duration = d
	}

	sess, err := s.gateways.Start(platform, listener, duration)
	switch {
	case errors.Is(err, gateway.ErrDurationTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Warn("gateway session not started", "platform", platform, "error", err)
		writeError(w, http.StatusServiceUnavailable, "gateway session not started")
		return
	}

	if r.URL.Query().Get("async") != "" {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id":  sess.ID(),
			"platform":    platform,
			"duration_ms": sess.Duration.Milliseconds(),
		})
		return
	}

	res, err := sess.Wait(r.Context())
	if err != nil {
		// The caller went away; the session keeps running on the host.
		s.logger.Info("gateway caller disconnected before session closed", "platform", platform, "session_id", sess.ID())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleHealth reports liveness and a little process state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"platforms":        s.bot.Platforms(),
		"background_tasks": s.host.Running(),
		"durable_state":    s.store.Durable(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// setupTCPListener creates the plain TCP listener.
func (s *Server) setupTCPListener() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// startServer serves HTTP in a goroutine, returning its error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		if shutdownErr := s.gracefulShutdown(); shutdownErr != nil {
			s.logger.Warn("releasing resources after listener failure", "error", shutdownErr)
		}
		return err
	}

	errCh := s.startServer(ln)
	serverErr := s.waitForShutdownSignal(ctx, errCh)

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "morpheus-assistant", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens for webhooks there.
// Platforms can only reach the bot through Funnel.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg, status)

	return s.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs the node address and the webhook base URL platforms should use.
func (s *Server) logTailscaleStatus(tsCfg config.TailscaleConfig, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	s.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)

	if dnsName == "" {
		return
	}
	scheme := "http"
	if tsCfg.HTTPS || tsCfg.Funnel {
		scheme = "https"
	}
	s.logger.Info("webhook base URL", "url", scheme+"://"+dnsName+"/webhooks/", "public", tsCfg.Funnel)
	if !tsCfg.Funnel {
		s.logger.Warn("tailscale funnel is off; chat platforms cannot reach the webhook endpoints")
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (s *Server) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return s.createTailscaleTLSListener()
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener() (net.Listener, error) {
	s.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := s.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for background work (including
// gateway sessions) and releases resources. HTTP and background shutdown
// run together: a gateway request only finishes once its session does.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", "background_tasks", s.host.Running())

	var httpErr, hostErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		httpErr = s.httpServer.Shutdown(ctx)
	}()
	go func() {
		defer wg.Done()
		hostErr = s.host.Shutdown(ctx)
	}()
	wg.Wait()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", httpErr)
	errs = appendCloseError(errs, "background shutdown", hostErr)
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())
	if s.dedupe != nil {
		s.dedupe.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
