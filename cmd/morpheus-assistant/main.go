// ABOUTME: Entry point for the morpheus-assistant chat bot
// ABOUTME: Cobra root command with serve, trigger and version subcommands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/morpheus-assistant/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                              _
  _ __ ___   ___  _ __ _ __ | |__   ___ _   _ ___
 | '_ ' _ \ / _ \| '__| '_ \| '_ \ / _ \ | | / __|
 | | | | | | (_) | |  | |_) | | | |  __/ |_| \__ \
 |_| |_| |_|\___/|_|  | .__/|_| |_|\___|\__,_|___/
                      |_|          assistant
`

type rootOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "morpheus-assistant",
		Short:         "Multi-platform AI chat assistant for Slack, Discord, GitHub, Linear and Matrix",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML or TOML config file (default: $MORPHEUS_CONFIG, then the built-in env-driven config)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Dotenv files to load before reading config (default: .env)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newTriggerCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "morpheus-assistant %s\n", version)
		},
	}
}

// resolveConfigPath returns the config file to load, or "" for the
// built-in configuration.
// Priority: --config > MORPHEUS_CONFIG > XDG_CONFIG_HOME/morpheus-assistant/config.yaml if it exists.
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if envPath := os.Getenv("MORPHEUS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	candidate := filepath.Join(configDir, "morpheus-assistant", "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// loadConfig loads dotenv files and then the resolved configuration.
// The returned source describes where the config came from.
func loadConfig(opts *rootOptions) (*config.Config, string, error) {
	if err := config.LoadDotEnv(opts.envFiles...); err != nil {
		return nil, "", fmt.Errorf("loading env files: %w", err)
	}

	path := resolveConfigPath(opts.configPath)
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, "", fmt.Errorf("loading built-in config: %w", err)
		}
		return cfg, "built-in (environment)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
