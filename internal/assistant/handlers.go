// ABOUTME: Conversation handlers for mentions, follow-ups, commands, reactions and actions.
// ABOUTME: Register wires them onto a bot.Bot backed by a completion pipeline.

package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/morpheus-assistant/internal/bot"
	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/completion"
)

// Replies posted by the handlers.
const (
	AskUsage          = "Usage: `/ask <your question>`"
	AskQuestionPrompt = "Go ahead and ask your question! I'll respond right here in this thread."
)

// ReactionTriggers are the reactions the bot acknowledges.
var ReactionTriggers = []string{chat.EmojiThumbsUp, chat.EmojiHeart, chat.EmojiRocket}

// Assistant implements the conversation handlers.
type Assistant struct {
	pipeline *completion.Pipeline
	logger   *slog.Logger
}

// Register creates an Assistant and registers its handlers on b.
func Register(b *bot.Bot, pipeline *completion.Pipeline, logger *slog.Logger) *Assistant {
	a := &Assistant{
		pipeline: pipeline,
		logger:   logger.With("component", "assistant"),
	}

	b.OnNewMention(a.handleNewMention)
	b.OnSubscribedMessage(a.handleSubscribedMessage)
	b.OnSlashCommand("/ask", a.handleAsk)
	b.OnSlashCommand("/morpheus", a.handleMorpheus)
	b.OnReaction(ReactionTriggers, a.handleReaction)
	b.OnAction(ActionAskQuestion, a.handleAskQuestion)

	return a
}

// handleNewMention follows the thread and answers the mention alone.
func (a *Assistant) handleNewMention(ctx context.Context, t *bot.Thread, msg chat.Message) error {
	if err := t.Subscribe(ctx); err != nil {
		return err
	}
	return a.pipeline.Respond(ctx, t, msg, nil)
}

// handleSubscribedMessage answers a follow-up with recent thread history.
func (a *Assistant) handleSubscribedMessage(ctx context.Context, t *bot.Thread, msg chat.Message) error {
	history := t.FetchMessages(ctx, a.pipeline.HistoryLimit())
	return a.pipeline.Respond(ctx, t, msg, history)
}

// handleAsk answers a one-off question without history or subscription.
func (a *Assistant) handleAsk(ctx context.Context, t *bot.Thread, cmd chat.SlashCommand) error {
	question := strings.TrimSpace(cmd.Text)
	if question == "" {
		return t.Post(ctx, chat.Text(AskUsage))
	}
	return a.pipeline.Respond(ctx, t, chat.Message{
		ThreadID: t.ID(),
		Author:   cmd.User,
		Text:     question,
	}, nil)
}

// handleMorpheus serves the informational subcommands.
func (a *Assistant) handleMorpheus(ctx context.Context, t *bot.Thread, cmd chat.SlashCommand) error {
	sub := strings.ToLower(strings.TrimSpace(cmd.Text))
	switch sub {
	case "", "help":
		return t.Post(ctx, HelpCard())
	case "models":
		return t.Post(ctx, ModelsCard(a.pipeline.Model()))
	case "about":
		return t.Post(ctx, AboutCard())
	default:
		return t.Post(ctx, chat.Text(fmt.Sprintf(
			"Unknown command: `/morpheus %s`. Try `/morpheus help` for available commands.", sub)))
	}
}

// handleReaction acknowledges a reaction with a heart where supported.
func (a *Assistant) handleReaction(ctx context.Context, t *bot.Thread, r chat.Reaction) error {
	err := t.AddReaction(ctx, r.MessageID, chat.EmojiHeart)
	switch {
	case err == nil, errors.Is(err, chat.ErrNotSupported):
	default:
		a.logger.Warn("acknowledging reaction failed", "thread", t.ID(), "message", r.MessageID, "error", err)
	}
	return nil
}

func (a *Assistant) handleAskQuestion(ctx context.Context, t *bot.Thread, _ chat.Action) error {
	return t.Post(ctx, chat.Text(AskQuestionPrompt))
}
