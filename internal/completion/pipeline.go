// ABOUTME: Streaming completion pipeline: history assembly, provider call and delivery.
// ABOUTME: Rate limits and other failures become short user-visible notices.

package completion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/metrics"
)

// User-visible failure notices.
const (
	RateLimitedNotice = "⏳ I'm being rate-limited right now. Please try again in a moment."
	ApologyNotice     = chat.Apology
)

// DefaultHistoryLimit caps how many prior messages are sent with a request.
const DefaultHistoryLimit = 20

// Conversation is the slice of a thread handle the pipeline needs.
type Conversation interface {
	ID() string
	StartTyping(ctx context.Context)
	Post(ctx context.Context, content chat.Content) error
}

// Options configures a Pipeline.
type Options struct {
	Model        string
	SystemPrompt string
	HistoryLimit int
}

// Pipeline turns a user utterance into a streamed reply.
type Pipeline struct {
	provider Provider
	opts     Options
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. A zero HistoryLimit uses DefaultHistoryLimit.
func NewPipeline(provider Provider, opts Options, logger *slog.Logger) *Pipeline {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Pipeline{
		provider: provider,
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
	}
}

// Model returns the configured model identifier.
func (p *Pipeline) Model() string { return p.opts.Model }

// HistoryLimit returns the maximum number of prior messages per request.
func (p *Pipeline) HistoryLimit() int { return p.opts.HistoryLimit }

// Respond streams a reply to utterance into conv. history may be nil.
//
// Provider and delivery failures are reported in the conversation and are
// not returned; the returned error is non-nil only when even the failure
// notice could not be delivered.
func (p *Pipeline) Respond(ctx context.Context, conv Conversation, utterance chat.Message, history iter.Seq2[chat.Message, error]) error {
	conv.StartTyping(ctx)

	req := p.BuildRequest(utterance, history)
	err := conv.Post(ctx, p.provider.Stream(ctx, req))
	if err == nil {
		return nil
	}

	notice := ApologyNotice
	if errors.Is(err, chat.ErrRateLimited) {
		notice = RateLimitedNotice
		metrics.CompletionFailures.WithLabelValues("rate_limited").Inc()
		p.logger.Warn("completion rate limited", "thread", conv.ID(), "model", req.Model)
	} else {
		metrics.CompletionFailures.WithLabelValues("error").Inc()
		p.logger.Error("completion failed",
			"thread", conv.ID(),
			"model", req.Model,
			"history", len(req.Messages)-1,
			"error", err,
		)
	}

	if perr := conv.Post(ctx, chat.Text(notice)); perr != nil {
		return fmt.Errorf("posting failure notice: %w", perr)
	}
	return nil
}

// BuildRequest assembles the request for utterance: up to HistoryLimit prior
// messages, oldest first, followed by the utterance itself. Messages without
// text and the utterance's own history entry are skipped. A history source
// reporting chat.ErrNotSupported contributes nothing.
func (p *Pipeline) BuildRequest(utterance chat.Message, history iter.Seq2[chat.Message, error]) Request {
	var prior []Turn
	if history != nil {
		for msg, err := range history {
			if err != nil {
				if !errors.Is(err, chat.ErrNotSupported) {
					p.logger.Warn("fetching history failed, continuing without it", "thread", utterance.ThreadID, "error", err)
				}
				break
			}
			if strings.TrimSpace(msg.Text) == "" || (msg.ID != "" && msg.ID == utterance.ID) {
				continue
			}
			prior = append(prior, turnFor(msg))
		}
	}
	if over := len(prior) - p.opts.HistoryLimit; over > 0 {
		prior = prior[over:]
	}

	return Request{
		System:   p.opts.SystemPrompt,
		Messages: append(prior, turnFor(utterance)),
		Model:    p.opts.Model,
	}
}

func turnFor(msg chat.Message) Turn {
	if msg.Author.IsMe {
		return Turn{Role: RoleAssistant, Text: msg.Text}
	}
	return Turn{Role: RoleUser, Text: msg.Text}
}
