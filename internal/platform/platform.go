// ABOUTME: Builds the adapter registry from configuration at startup.
// ABOUTME: A platform is registered only when its credentials are present.

package platform

import (
	"fmt"
	"log/slog"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
	"github.com/2389/morpheus-assistant/internal/platform/discord"
	"github.com/2389/morpheus-assistant/internal/platform/github"
	"github.com/2389/morpheus-assistant/internal/platform/linear"
	"github.com/2389/morpheus-assistant/internal/platform/matrix"
	"github.com/2389/morpheus-assistant/internal/platform/slack"
)

// Build creates an adapter for every platform with configured credentials,
// keyed by platform tag. Having none is allowed but logged, since every
// inbound request will then be rejected.
func Build(cfg *config.Config, logger *slog.Logger) (map[string]chat.Adapter, error) {
	interval := cfg.Bot.StreamInterval
	adapters := make(map[string]chat.Adapter)

	if c := cfg.Platforms.Slack; c.Enabled() {
		adapters[slack.Platform] = slack.New(c, interval, logger)
	}
	if c := cfg.Platforms.Discord; c.Enabled() {
		a, err := discord.New(c, interval, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring discord: %w", err)
		}
		adapters[discord.Platform] = a
	}
	if c := cfg.Platforms.Matrix; c.Enabled() {
		a, err := matrix.New(c, interval, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring matrix: %w", err)
		}
		adapters[matrix.Platform] = a
	}
	if c := cfg.Platforms.GitHub; c.Enabled() {
		a, err := github.New(c, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring github: %w", err)
		}
		adapters[github.Platform] = a
	}
	if c := cfg.Platforms.Linear; c.Enabled() {
		a, err := linear.New(c, logger)
		if err != nil {
			return nil, fmt.Errorf("configuring linear: %w", err)
		}
		adapters[linear.Platform] = a
	}

	if len(adapters) == 0 {
		logger.Warn("no chat platforms configured; set platform credentials to receive events")
	}
	for name := range adapters {
		logger.Info("platform enabled", "platform", name)
	}
	return adapters, nil
}
