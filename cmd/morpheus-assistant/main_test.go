// ABOUTME: Tests for CLI helpers: config resolution, trigger URLs and the log handler
// ABOUTME: Trigger runs against an httptest server standing in for the gateway endpoint

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/morpheus-assistant/internal/config"
	"github.com/2389/morpheus-assistant/internal/gateway"
)

func init() {
	color.NoColor = true
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv("MORPHEUS_CONFIG", "/etc/env.yaml")
		assert.Equal(t, "/etc/flag.yaml", resolveConfigPath("/etc/flag.yaml"))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("MORPHEUS_CONFIG", "/etc/env.yaml")
		assert.Equal(t, "/etc/env.yaml", resolveConfigPath(""))
	})

	t.Run("built-in when no file exists", func(t *testing.T) {
		t.Setenv("MORPHEUS_CONFIG", "")
		assert.Equal(t, "", resolveConfigPath(""))
	})

	t.Run("xdg file when present", func(t *testing.T) {
		t.Setenv("MORPHEUS_CONFIG", "")
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		path := filepath.Join(dir, "morpheus-assistant", "config.yaml")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
		assert.Equal(t, path, resolveConfigPath(""))
	})
}

func TestGatewayURL(t *testing.T) {
	got, err := gatewayURL("https://bot.example.com/base/", "discord", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://bot.example.com/base/gateway/discord?duration=1m30s", got)

	got, err = gatewayURL("http://localhost:8080", "matrix", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/gateway/matrix", got)

	_, err = gatewayURL("localhost:8080", "matrix", 0)
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":8080"
	assert.Equal(t, "http://localhost:8080", baseURL(cfg, ""))

	cfg.Server.PublicURL = "https://bot.example.com"
	assert.Equal(t, "https://bot.example.com", baseURL(cfg, ""))
	assert.Equal(t, "http://override", baseURL(cfg, "http://override"))
}

func TestRunTrigger(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.RequestURI()
		_ = json.NewEncoder(w).Encode(gateway.Result{
			SessionID:  "sess-1",
			Platform:   "discord",
			Outcome:    "draining",
			Events:     3,
			DurationMS: 1000,
		})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Gateway.Secret = "s3cret"
	cfg.Gateway.MaxDuration = time.Second

	var out bytes.Buffer
	err := runTrigger(context.Background(), &out, cfg, "discord", &triggerOptions{baseURL: srv.URL, duration: time.Second})
	require.NoError(t, err)

	assert.Equal(t, "Bearer s3cret", gotAuth)
	assert.Equal(t, "/gateway/discord?duration=1s", gotPath)
	assert.Contains(t, out.String(), "discord session sess-1: draining, 3 events in 1000ms")
}

func TestRunTrigger_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &config.Config{}
	var out bytes.Buffer

	err := runTrigger(context.Background(), &out, cfg, "discord", &triggerOptions{baseURL: srv.URL})
	assert.ErrorContains(t, err, "gateway.secret is not configured")

	cfg.Gateway.Secret = "wrong"
	err = runTrigger(context.Background(), &out, cfg, "discord", &triggerOptions{baseURL: srv.URL})
	assert.ErrorContains(t, err, "gateway returned 401")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.With("component", "bot").WithGroup("req").Warn("slow", "ms", 1200)

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "WRN slow")
	assert.Contains(t, line, "component=bot")
	assert.Contains(t, line, "req.ms=1200")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "platform", "slack")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "slack", rec["platform"])
	assert.Equal(t, slog.LevelDebug.String(), rec["level"])
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "morpheus-assistant dev\n", out.String())
}
