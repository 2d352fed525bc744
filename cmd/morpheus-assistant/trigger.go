// ABOUTME: trigger subcommand that starts gateway listening sessions on a schedule
// ABOUTME: Stands in for an external cron hitting GET /gateway/{platform}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/morpheus-assistant/internal/config"
	"github.com/2389/morpheus-assistant/internal/gateway"
)

// requestSlack is added to the session duration when bounding one request.
const requestSlack = time.Minute

type triggerOptions struct {
	baseURL  string
	duration time.Duration
	every    time.Duration
}

func newTriggerCmd(root *rootOptions) *cobra.Command {
	opts := &triggerOptions{}

	cmd := &cobra.Command{
		Use:   "trigger <platform>",
		Short: "Start a gateway listening session, once or repeatedly",
		Long: "Calls GET /gateway/<platform> with the configured gateway secret and prints the session result.\n" +
			"With --every the call repeats until interrupted, like a cron schedule.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(root)
			if err != nil {
				return err
			}
			return runTrigger(cmd.Context(), cmd.OutOrStdout(), cfg, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "url", "", "Server base URL (default: server.public_url, then http://server.http_addr)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "Listening duration (default: server's gateway.max_duration)")
	cmd.Flags().DurationVar(&opts.every, "every", 0, "Repeat interval; 0 runs once")
	return cmd
}

func runTrigger(ctx context.Context, out io.Writer, cfg *config.Config, platform string, opts *triggerOptions) error {
	if cfg.Gateway.Secret == "" {
		return errors.New("gateway.secret is not configured")
	}

	endpoint, err := gatewayURL(baseURL(cfg, opts.baseURL), platform, opts.duration)
	if err != nil {
		return err
	}

	budget := opts.duration
	if budget <= 0 {
		budget = cfg.Gateway.MaxDuration
	}
	client := &http.Client{Timeout: budget + requestSlack}

	if opts.every <= 0 {
		return triggerOnce(ctx, out, client, endpoint, cfg.Gateway.Secret)
	}

	ticker := time.NewTicker(opts.every)
	defer ticker.Stop()
	for {
		// A failed session is reported and retried on the next tick.
		if err := triggerOnce(ctx, out, client, endpoint, cfg.Gateway.Secret); err != nil {
			color.New(color.FgRed).Fprintf(out, "✗ %v\n", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func baseURL(cfg *config.Config, override string) string {
	if override != "" {
		return override
	}
	if cfg.Server.PublicURL != "" {
		return cfg.Server.PublicURL
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// gatewayURL builds the gateway endpoint for platform under base.
func gatewayURL(base, platform string, duration time.Duration) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must include scheme and host", base)
	}
	u = u.JoinPath("gateway", platform)
	if duration > 0 {
		q := u.Query()
		q.Set("duration", duration.String())
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func triggerOnce(ctx context.Context, out io.Writer, client *http.Client, endpoint, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res gateway.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("decoding session result: %w", err)
	}
	printResult(out, &res)
	return nil
}

func printResult(out io.Writer, res *gateway.Result) {
	mark := color.New(color.FgGreen).Sprint("✓")
	if res.Outcome != gateway.StateDraining.String() {
		mark = color.New(color.FgYellow).Sprint("!")
	}
	fmt.Fprintf(out, "%s %s session %s: %s, %d events in %dms",
		mark, res.Platform, res.SessionID, res.Outcome, res.Events, res.DurationMS)
	if res.Error != "" {
		fmt.Fprintf(out, " (%s)", res.Error)
	}
	fmt.Fprintln(out)
}
