// ABOUTME: serve subcommand wiring config, state, completion, platforms and HTTP ingress
// ABOUTME: Prints the startup banner and runs until SIGINT or SIGTERM

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/morpheus-assistant/internal/assistant"
	"github.com/2389/morpheus-assistant/internal/background"
	"github.com/2389/morpheus-assistant/internal/bot"
	"github.com/2389/morpheus-assistant/internal/completion"
	"github.com/2389/morpheus-assistant/internal/config"
	"github.com/2389/morpheus-assistant/internal/dedupe"
	"github.com/2389/morpheus-assistant/internal/gateway"
	"github.com/2389/morpheus-assistant/internal/platform"
	"github.com/2389/morpheus-assistant/internal/server"
	"github.com/2389/morpheus-assistant/internal/store"
)

const (
	dedupeMaxEntries = 100_000
	dedupeSweep      = time.Minute
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(ctx context.Context, root *rootOptions) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig(root)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)
	printStartup(cfg, source)

	logger.Info("starting morpheus-assistant",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"platforms", cfg.EnabledPlatforms(),
	)

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// buildServer assembles every component behind the HTTP server.
// Resources opened before a failure are released before returning.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	st, err := store.Open(ctx, cfg.State, logger)
	if err != nil {
		return nil, fmt.Errorf("opening subscription store: %w", err)
	}

	cleanup := func() { _ = st.Close() }

	provider, err := completion.NewOpenAIProvider(cfg.Completion, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("creating completion provider: %w", err)
	}
	pipeline := completion.NewPipeline(provider, completion.Options{
		Model:        cfg.Completion.Model,
		SystemPrompt: assistant.SystemPrompt,
		HistoryLimit: cfg.Completion.HistoryLimit,
	}, logger)

	adapters, err := platform.Build(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	seen := dedupe.New(cfg.Bot.DedupeTTL, dedupeMaxEntries, dedupeSweep)

	b := bot.New(bot.Options{
		UserName: cfg.Bot.UserName,
		Adapters: adapters,
		Store:    st,
		Dedupe:   seen,
	}, logger)
	assistant.Register(b, pipeline, logger)

	host := background.NewHost(cfg.Server.MaxBackgroundTasks, logger)
	gateways, err := gateway.NewManager(gateway.Options{
		MaxDuration: cfg.Gateway.MaxDuration,
		Ceiling:     cfg.Gateway.ExecutionCeiling,
		Grace:       cfg.Gateway.Grace,
	}, b, host, logger)
	if err != nil {
		seen.Close()
		cleanup()
		return nil, fmt.Errorf("configuring gateway sessions: %w", err)
	}

	return server.New(server.Options{
		Config:   cfg,
		Bot:      b,
		Host:     host,
		Gateways: gateways,
		Store:    st,
		Dedupe:   seen,
	}, logger), nil
}

func printStartup(cfg *config.Config, source string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s\n", cfg.Completion.Model)

	green.Print("    ▶ ")
	fmt.Printf("Platforms: ")
	platforms := cfg.EnabledPlatforms()
	if len(platforms) == 0 {
		yellow.Print("none configured")
	}
	for i, p := range platforms {
		if i > 0 {
			fmt.Print(", ")
		}
		cyan.Print(p)
	}
	fmt.Println()

	green.Print("    ▶ ")
	fmt.Printf("State:     ")
	backend := cfg.State.Backend
	if backend == config.BackendAuto {
		backend = "auto"
	}
	fmt.Println(backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()
}
