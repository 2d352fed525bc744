// ABOUTME: Event dispatcher: classifies inbound events and runs at most one handler.
// ABOUTME: Handler errors and panics become one apology reply plus one log line.

package bot

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/metrics"
)

// Dispatch outcomes, used as metric labels.
const (
	outcomeHandled   = "handled"
	outcomeDropped   = "dropped"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
)

type handlerFunc func(ctx context.Context) error

// Dispatch routes ev to at most one registered handler. It never returns an
// error and never panics: a failing handler results in a single apology
// posted to the originating thread and a logged diagnostic.
func (b *Bot) Dispatch(ctx context.Context, ev chat.Event) {
	env := chat.EnvelopeOf(ev)
	logger := b.logger.With("platform", env.Platform, "thread", env.ThreadID)

	adapter, ok := b.adapters[env.Platform]
	if !ok {
		logger.Warn("event for unconfigured platform dropped", "kind", chat.Kind(ev))
		metrics.EventsDispatched.WithLabelValues(env.Platform, chat.Kind(ev), outcomeDropped).Inc()
		return
	}

	if b.seen != nil && !b.seen.Claim(env.Platform, env.EventID) {
		logger.Debug("duplicate event dropped", "kind", chat.Kind(ev), "event_id", env.EventID)
		metrics.EventsDispatched.WithLabelValues(env.Platform, chat.Kind(ev), outcomeDuplicate).Inc()
		return
	}

	thread := b.thread(adapter, env.ThreadID)
	kind, run := b.route(ctx, thread, ev)
	if run == nil {
		logger.Debug("event dropped", "kind", kind)
		metrics.EventsDispatched.WithLabelValues(env.Platform, kind, outcomeDropped).Inc()
		return
	}

	if err := invoke(ctx, run); err != nil {
		herr := &chat.HandlerError{Kind: kind, Platform: env.Platform, ThreadID: env.ThreadID, Err: err}
		logger.Error("handler failed", "kind", kind, "error", herr)
		metrics.EventsDispatched.WithLabelValues(env.Platform, kind, outcomeFailed).Inc()

		if perr := thread.Post(ctx, chat.Text(chat.Apology)); perr != nil {
			logger.Error("posting apology failed", "kind", kind, "error", perr)
		}
		return
	}

	metrics.EventsDispatched.WithLabelValues(env.Platform, kind, outcomeHandled).Inc()
}

// route resolves ev to its final kind and the handler to run, or a nil
// handler when the event should be dropped.
func (b *Bot) route(ctx context.Context, t *Thread, ev chat.Event) (string, handlerFunc) {
	switch e := ev.(type) {
	case chat.MessageReceived:
		if e.Message.Author.IsMe {
			return chat.Kind(e), nil
		}
		subscribed, err := b.store.IsSubscribed(ctx, t.id)
		if err != nil {
			// subscribed is false here, so only a mention is answered.
			b.logger.Error("checking subscription failed", "thread", t.id, "error", err)
		}
		switch {
		case subscribed:
			return b.route(ctx, t, chat.SubscribedMessage{Envelope: e.Envelope, Message: e.Message})
		case e.Mentioned:
			return b.route(ctx, t, chat.NewMention{Envelope: e.Envelope, Message: e.Message})
		}
		return chat.Kind(e), nil

	case chat.NewMention:
		if e.Message.Author.IsMe || b.onMention == nil {
			return chat.Kind(e), nil
		}
		return chat.Kind(e), func(ctx context.Context) error {
			return b.onMention(ctx, t, e.Message)
		}

	case chat.SubscribedMessage:
		if e.Message.Author.IsMe || b.onSubscribed == nil {
			return chat.Kind(e), nil
		}
		return chat.Kind(e), func(ctx context.Context) error {
			return b.onSubscribed(ctx, t, e.Message)
		}

	case chat.SlashCommand:
		h, ok := b.commands[normalizeCommand(e.Command)]
		if !ok {
			return chat.Kind(e), func(ctx context.Context) error {
				return t.Post(ctx, chat.Text(fmt.Sprintf("Unknown command: `%s`.", e.Command)))
			}
		}
		return chat.Kind(e), func(ctx context.Context) error {
			return h(ctx, t, e)
		}

	case chat.Reaction:
		if !e.Added || e.User.IsBot || e.User.IsMe {
			return chat.Kind(e), nil
		}
		h := b.reactionHandler(e.Emoji)
		if h == nil {
			return chat.Kind(e), nil
		}
		return chat.Kind(e), func(ctx context.Context) error {
			return h(ctx, t, e)
		}

	case chat.Action:
		h, ok := b.actions[e.ActionID]
		if !ok {
			return chat.Kind(e), nil
		}
		return chat.Kind(e), func(ctx context.Context) error {
			return h(ctx, t, e)
		}
	}

	return chat.Kind(ev), nil
}

// invoke runs a handler, converting a panic into an error.
func invoke(ctx context.Context, run handlerFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return run(ctx)
}
