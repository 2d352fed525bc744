// ABOUTME: Provider backed by an OpenAI-compatible API via langchaingo.
// ABOUTME: Used against the Morpheus API gateway with streaming enabled.

package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

// errStopped aborts generation when the consumer stops ranging early.
var errStopped = errors.New("stream consumer stopped")

// OpenAIProvider streams completions from any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	llm     llms.Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIProvider creates a provider for cfg.BaseURL authenticated with cfg.APIKey.
func NewOpenAIProvider(cfg config.CompletionConfig, logger *slog.Logger) (*OpenAIProvider, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return newProvider(llm, cfg.RequestTimeout, logger), nil
}

func newProvider(llm llms.Model, timeout time.Duration, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		llm:     llm,
		timeout: timeout,
		logger:  logger.With("component", "completion"),
	}
}

// Stream implements Provider. Chunks are yielded from inside the streaming
// callback, which langchaingo invokes on the calling goroutine.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) chat.Stream {
	return func(yield func(string, error) bool) {
		if p.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}

		messages := make([]llms.MessageContent, 0, len(req.Messages)+1)
		if req.System != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
		}
		for _, m := range req.Messages {
			role := llms.ChatMessageTypeHuman
			if m.Role == RoleAssistant {
				role = llms.ChatMessageTypeAI
			}
			messages = append(messages, llms.TextParts(role, m.Text))
		}

		stopped := false
		start := time.Now()
		_, err := p.llm.GenerateContent(ctx, messages,
			llms.WithModel(req.Model),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				if !yield(string(chunk), nil) {
					stopped = true
					return errStopped
				}
				return nil
			}),
		)
		if stopped {
			return
		}
		if err != nil {
			p.logger.Debug("completion failed", "model", req.Model, "duration", time.Since(start), "error", err)
			yield("", classify(err))
			return
		}
		p.logger.Debug("completion finished", "model", req.Model, "duration", time.Since(start))
	}
}

// classify maps provider errors onto the chat error taxonomy.
func classify(err error) error {
	if llms.IsRateLimitError(openai.MapError(err)) {
		return fmt.Errorf("%w: %v", chat.ErrRateLimited, err)
	}
	return fmt.Errorf("completion request: %w", err)
}
