// ABOUTME: Thread handle given to handlers: subscription, posting, typing, history, reactions.
// ABOUTME: Optional adapter capabilities surface as chat.ErrNotSupported when absent.

package bot

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/store"
)

// Thread is a handler's view of one conversation.
type Thread struct {
	id      string
	adapter chat.Adapter
	store   store.Store
	logger  *slog.Logger
}

// ID returns the thread identifier.
func (t *Thread) ID() string { return t.id }

// Platform returns the adapter name.
func (t *Thread) Platform() string { return t.adapter.Name() }

// Subscribe starts following the thread. Calling it on a followed thread is a no-op.
func (t *Thread) Subscribe(ctx context.Context) error {
	if err := t.store.SetSubscribed(ctx, t.id, true); err != nil {
		return fmt.Errorf("subscribing %s: %w", t.id, err)
	}
	if err := t.adapter.Subscribe(ctx, t.id); err != nil {
		return fmt.Errorf("subscribing %s on %s: %w", t.id, t.adapter.Name(), err)
	}
	return nil
}

// Unsubscribe stops following the thread.
func (t *Thread) Unsubscribe(ctx context.Context) error {
	if err := t.store.SetSubscribed(ctx, t.id, false); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", t.id, err)
	}
	if err := t.adapter.Unsubscribe(ctx, t.id); err != nil {
		return fmt.Errorf("unsubscribing %s on %s: %w", t.id, t.adapter.Name(), err)
	}
	return nil
}

// IsSubscribed reports whether the bot follows the thread.
func (t *Thread) IsSubscribed(ctx context.Context) (bool, error) {
	return t.store.IsSubscribed(ctx, t.id)
}

// Post delivers content to the thread.
func (t *Thread) Post(ctx context.Context, content chat.Content) error {
	return t.adapter.Post(ctx, t.id, content)
}

// StartTyping shows a typing hint. Failures are logged and otherwise ignored.
func (t *Thread) StartTyping(ctx context.Context) {
	if err := t.adapter.StartTyping(ctx, t.id); err != nil {
		t.logger.Debug("typing indicator failed", "thread", t.id, "error", err)
	}
}

// FetchMessages yields up to limit recent messages, oldest first. Without
// history support the sequence yields a single chat.ErrNotSupported.
func (t *Thread) FetchMessages(ctx context.Context, limit int) iter.Seq2[chat.Message, error] {
	history := t.adapter.Capabilities().History
	if history == nil {
		return func(yield func(chat.Message, error) bool) {
			yield(chat.Message{}, chat.ErrNotSupported)
		}
	}
	return history.FetchMessages(ctx, t.id, limit)
}

// AddReaction reacts to a message, or returns chat.ErrNotSupported.
func (t *Thread) AddReaction(ctx context.Context, messageID, emoji string) error {
	reactor := t.adapter.Capabilities().Reactions
	if reactor == nil {
		return chat.ErrNotSupported
	}
	return reactor.AddReaction(ctx, t.id, messageID, emoji)
}
