// ABOUTME: Configuration loading and parsing for morpheus-assistant
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultConfig []byte

// Config represents the complete morpheus-assistant configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	State      StateConfig      `yaml:"state" toml:"state"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Gateway    GatewayConfig    `yaml:"gateway" toml:"gateway"`
	Bot        BotConfig        `yaml:"bot" toml:"bot"`
	Platforms  PlatformsConfig  `yaml:"platforms" toml:"platforms"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP ingress configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// PublicURL is the externally reachable base URL, used by the trigger command
	PublicURL string `yaml:"public_url" toml:"public_url"`
	// MaxBackgroundTasks bounds concurrent background work; 0 means unbounded
	MaxBackgroundTasks int `yaml:"max_background_tasks" toml:"max_background_tasks"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Public Funnel, implies HTTPS
}

// Subscription state backends
const (
	BackendAuto     = ""
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StateConfig selects and configures the subscription state backend
type StateConfig struct {
	Backend     string `yaml:"backend" toml:"backend"`
	RedisURL    string `yaml:"redis_url" toml:"redis_url"`
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url" toml:"postgres_url"`
	KeyPrefix   string `yaml:"key_prefix" toml:"key_prefix"`
	// RequireDurable turns the volatile in-memory fallback into a startup error
	RequireDurable bool `yaml:"require_durable" toml:"require_durable"`
}

// CompletionConfig configures the OpenAI-compatible completion provider
type CompletionConfig struct {
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	Model        string `yaml:"model" toml:"model"`
	HistoryLimit int    `yaml:"history_limit" toml:"history_limit"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// GatewayConfig bounds persistent-connection listening sessions
type GatewayConfig struct {
	// Secret is the bearer credential required by GET /gateway/{platform}
	Secret string `yaml:"secret" toml:"secret"`

	MaxDuration      time.Duration `yaml:"-" toml:"-"`
	ExecutionCeiling time.Duration `yaml:"-" toml:"-"`
	Grace            time.Duration `yaml:"-" toml:"-"`

	MaxDurationRaw      string `yaml:"max_duration" toml:"max_duration"`
	ExecutionCeilingRaw string `yaml:"execution_ceiling" toml:"execution_ceiling"`
	GraceRaw            string `yaml:"grace" toml:"grace"`
}

// BotConfig holds bot identity and delivery tuning
type BotConfig struct {
	UserName string `yaml:"user_name" toml:"user_name"`

	StreamInterval time.Duration `yaml:"-" toml:"-"`
	DedupeTTL      time.Duration `yaml:"-" toml:"-"`

	StreamIntervalRaw string `yaml:"stream_interval" toml:"stream_interval"`
	DedupeTTLRaw      string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// PlatformsConfig holds credentials for every supported platform.
// A platform is enabled when its required credentials are present.
type PlatformsConfig struct {
	Slack   SlackConfig   `yaml:"slack" toml:"slack"`
	Discord DiscordConfig `yaml:"discord" toml:"discord"`
	Matrix  MatrixConfig  `yaml:"matrix" toml:"matrix"`
	GitHub  GitHubConfig  `yaml:"github" toml:"github"`
	Linear  LinearConfig  `yaml:"linear" toml:"linear"`
}

// SlackConfig holds Slack app credentials
type SlackConfig struct {
	BotToken      string `yaml:"bot_token" toml:"bot_token"`
	SigningSecret string `yaml:"signing_secret" toml:"signing_secret"`
	// APIURL overrides the Slack Web API endpoint
	APIURL string `yaml:"api_url" toml:"api_url"`
}

// Enabled reports whether Slack credentials are configured
func (c SlackConfig) Enabled() bool {
	return c.BotToken != "" && c.SigningSecret != ""
}

// DiscordConfig holds Discord application credentials
type DiscordConfig struct {
	BotToken      string `yaml:"bot_token" toml:"bot_token"`
	PublicKey     string `yaml:"public_key" toml:"public_key"`
	ApplicationID string `yaml:"application_id" toml:"application_id"`
}

// Enabled reports whether Discord credentials are configured
func (c DiscordConfig) Enabled() bool {
	return c.BotToken != "" && c.PublicKey != ""
}

// MatrixConfig holds Matrix bot account configuration
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver"`
	UserID      string `yaml:"user_id" toml:"user_id"`
	AccessToken string `yaml:"access_token" toml:"access_token"`
}

// Enabled reports whether Matrix credentials are configured
func (c MatrixConfig) Enabled() bool {
	return c.Homeserver != "" && c.UserID != "" && c.AccessToken != ""
}

// GitHubConfig holds GitHub credentials. Either a personal access token or
// a GitHub App (app ID plus private key) is required.
type GitHubConfig struct {
	Token      string `yaml:"token" toml:"token"`
	AppID      string `yaml:"app_id" toml:"app_id"`
	PrivateKey string `yaml:"private_key" toml:"private_key"`
	// InstallationID selects the app installation; empty means the first one
	InstallationID string `yaml:"installation_id" toml:"installation_id"`
	WebhookSecret  string `yaml:"webhook_secret" toml:"webhook_secret"`
	// BotLogin overrides the login resolved from the credentials
	BotLogin string `yaml:"bot_login" toml:"bot_login"`
	// APIURL overrides the REST API endpoint (GitHub Enterprise, tests)
	APIURL string `yaml:"api_url" toml:"api_url"`
}

// Enabled reports whether GitHub credentials are configured
func (c GitHubConfig) Enabled() bool {
	return (c.AppID != "" && c.PrivateKey != "") || c.Token != ""
}

// LinearConfig holds Linear credentials. Either an API key or OAuth client
// credentials are required.
type LinearConfig struct {
	APIKey        string `yaml:"api_key" toml:"api_key"`
	ClientID      string `yaml:"client_id" toml:"client_id"`
	ClientSecret  string `yaml:"client_secret" toml:"client_secret"`
	WebhookSecret string `yaml:"webhook_secret" toml:"webhook_secret"`
	// APIURL overrides the GraphQL endpoint
	APIURL string `yaml:"api_url" toml:"api_url"`
	// TokenURL overrides the OAuth token endpoint
	TokenURL string `yaml:"token_url" toml:"token_url"`
}

// Enabled reports whether Linear credentials are configured
func (c LinearConfig) Enabled() bool {
	return c.APIKey != "" || (c.ClientID != "" && c.ClientSecret != "")
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Default returns the built-in configuration, which reads everything from
// environment variables (SLACK_BOT_TOKEN, MORPHEUS_API_KEY, REDIS_URL, ...).
func Default() (*Config, error) {
	return Parse(defaultConfig, "yaml")
}

// Parse decodes, expands, defaults and validates raw configuration data.
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.NewDecoder(bytes.NewReader([]byte(expanded))).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Server.HTTPAddr, ":3000")
	setDefault(&cfg.Server.ShutdownTimeoutRaw, "30s")

	setDefault(&cfg.Tailscale.Hostname, "morpheus-assistant")
	setDefault(&cfg.State.KeyPrefix, "morpheus-assistant")

	setDefault(&cfg.Completion.BaseURL, "https://api.mor.org/api/v1")
	setDefault(&cfg.Completion.Model, "llama-3.3-70b")
	setDefault(&cfg.Completion.RequestTimeoutRaw, "2m")
	if cfg.Completion.HistoryLimit == 0 {
		cfg.Completion.HistoryLimit = 20
	}

	setDefault(&cfg.Gateway.MaxDurationRaw, "10m")
	setDefault(&cfg.Gateway.ExecutionCeilingRaw, "800s")
	setDefault(&cfg.Gateway.GraceRaw, "15s")

	setDefault(&cfg.Bot.UserName, "morpheus-assistant")
	setDefault(&cfg.Bot.StreamIntervalRaw, "500ms")
	setDefault(&cfg.Bot.DedupeTTLRaw, "10m")

	setDefault(&cfg.Logging.Level, "info")
	setDefault(&cfg.Logging.Format, "text")
	setDefault(&cfg.Metrics.Path, "/metrics")
}

func setDefault(field *string, value string) {
	if strings.TrimSpace(*field) == "" {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Server.MaxBackgroundTasks < 0 {
		return fmt.Errorf("server.max_background_tasks must not be negative")
	}

	switch c.State.Backend {
	case BackendAuto, BackendMemory:
	case BackendRedis:
		if c.State.RedisURL == "" {
			return fmt.Errorf("state.redis_url is required for the redis backend")
		}
	case BackendSQLite:
		if c.State.SQLitePath == "" {
			return fmt.Errorf("state.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.State.PostgresURL == "" {
			return fmt.Errorf("state.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("state.backend %q is not one of memory, redis, sqlite, postgres", c.State.Backend)
	}

	if c.Completion.APIKey == "" {
		return fmt.Errorf("completion.api_key is required")
	}
	if c.Completion.HistoryLimit < 0 {
		return fmt.Errorf("completion.history_limit must not be negative")
	}

	if c.Gateway.MaxDuration <= 0 {
		return fmt.Errorf("gateway.max_duration must be positive")
	}
	if c.Gateway.MaxDuration+c.Gateway.Grace >= c.Gateway.ExecutionCeiling {
		return fmt.Errorf("gateway.max_duration (%s) plus grace (%s) must be less than execution_ceiling (%s)",
			c.Gateway.MaxDuration, c.Gateway.Grace, c.Gateway.ExecutionCeiling)
	}

	if c.Platforms.GitHub.Enabled() && c.Platforms.GitHub.WebhookSecret == "" {
		return fmt.Errorf("platforms.github.webhook_secret is required when github is enabled")
	}
	if c.Platforms.Linear.Enabled() && c.Platforms.Linear.WebhookSecret == "" {
		return fmt.Errorf("platforms.linear.webhook_secret is required when linear is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"completion.request_timeout", cfg.Completion.RequestTimeoutRaw, &cfg.Completion.RequestTimeout},
		{"gateway.max_duration", cfg.Gateway.MaxDurationRaw, &cfg.Gateway.MaxDuration},
		{"gateway.execution_ceiling", cfg.Gateway.ExecutionCeilingRaw, &cfg.Gateway.ExecutionCeiling},
		{"gateway.grace", cfg.Gateway.GraceRaw, &cfg.Gateway.Grace},
		{"bot.stream_interval", cfg.Bot.StreamIntervalRaw, &cfg.Bot.StreamInterval},
		{"bot.dedupe_ttl", cfg.Bot.DedupeTTLRaw, &cfg.Bot.DedupeTTL},
	}

	for _, f := range fields {
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// EnabledPlatforms lists the platform tags whose credentials are present.
func (c *Config) EnabledPlatforms() []string {
	var out []string
	if c.Platforms.Slack.Enabled() {
		out = append(out, "slack")
	}
	if c.Platforms.Discord.Enabled() {
		out = append(out, "discord")
	}
	if c.Platforms.Matrix.Enabled() {
		out = append(out, "matrix")
	}
	if c.Platforms.GitHub.Enabled() {
		out = append(out, "github")
	}
	if c.Platforms.Linear.Enabled() {
		out = append(out, "linear")
	}
	return out
}
