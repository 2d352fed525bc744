// Package config handles configuration loading for morpheus-assistant.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. When no file is given, a built-in configuration that reads every
// value from the environment is used, so a plain .env file is enough to run
// the bot.
//
// # Configuration File
//
// Lookup order (see cmd/morpheus-assistant):
//
//  1. --config flag
//  2. MORPHEUS_ASSISTANT_CONFIG environment variable
//  3. Built-in defaults (environment only)
//
// A .env file in the working directory is loaded first with godotenv;
// variables already present in the environment win.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	completion:
//	  api_key: "${MORPHEUS_API_KEY}"
//
// Unset variables expand to the empty string, after which defaults apply.
//
// # Configuration Sections
//
// Server and ingress:
//
//	server:
//	  http_addr: ":3000"
//	  public_url: "https://bot.example.org"  # used by the trigger command
//	  max_background_tasks: 0                # 0 = unbounded
//	  shutdown_timeout: "30s"
//
// Subscription state:
//
//	state:
//	  backend: ""            # "", memory, redis, sqlite, postgres
//	  redis_url: "${REDIS_URL}"
//	  sqlite_path: "./data/state.db"
//	  postgres_url: "${DATABASE_URL}"
//	  require_durable: false # refuse the in-memory fallback
//
// An empty backend selects redis when redis_url is set and the volatile
// in-memory store otherwise.
//
// Completion provider:
//
//	completion:
//	  base_url: "https://api.mor.org/api/v1"
//	  api_key: "${MORPHEUS_API_KEY}"
//	  model: "llama-3.3-70b"
//	  history_limit: 20
//
// Gateway sessions:
//
//	gateway:
//	  secret: "${CRON_SECRET}"
//	  max_duration: "10m"
//	  execution_ceiling: "800s"
//	  grace: "15s"
//
// max_duration plus grace must be strictly less than execution_ceiling.
//
// Platforms are enabled by the presence of their credentials:
//
//	platforms:
//	  slack:   {bot_token: "...", signing_secret: "..."}
//	  discord: {bot_token: "...", public_key: "...", application_id: "..."}
//	  matrix:  {homeserver: "...", user_id: "...", access_token: "..."}
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
