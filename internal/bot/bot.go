// ABOUTME: Bot holds the adapter registry, subscription store and handler routes.
// ABOUTME: Handlers are registered once at startup; Dispatch routes events to them.

package bot

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/dedupe"
	"github.com/2389/morpheus-assistant/internal/store"
)

// MessageHandler handles NewMention and SubscribedMessage events.
type MessageHandler func(ctx context.Context, t *Thread, msg chat.Message) error

// CommandHandler handles a slash command.
type CommandHandler func(ctx context.Context, t *Thread, cmd chat.SlashCommand) error

// ReactionHandler handles an added reaction.
type ReactionHandler func(ctx context.Context, t *Thread, r chat.Reaction) error

// ActionHandler handles an interactive action.
type ActionHandler func(ctx context.Context, t *Thread, a chat.Action) error

type reactionRoute struct {
	emojis  []string
	handler ReactionHandler
}

// Bot routes inbound events from every configured adapter.
type Bot struct {
	userName string
	adapters map[string]chat.Adapter
	store    store.Store
	seen     *dedupe.Cache
	logger   *slog.Logger

	onMention    MessageHandler
	onSubscribed MessageHandler
	commands     map[string]CommandHandler
	reactions    []reactionRoute
	actions      map[string]ActionHandler
}

// Options configures a Bot.
type Options struct {
	UserName string
	Adapters map[string]chat.Adapter
	Store    store.Store
	// Dedupe drops redelivered events; nil disables deduplication.
	Dedupe *dedupe.Cache
}

// New creates a Bot. The adapter map is fixed for the Bot's lifetime.
func New(opts Options, logger *slog.Logger) *Bot {
	adapters := make(map[string]chat.Adapter, len(opts.Adapters))
	for name, a := range opts.Adapters {
		adapters[name] = a
	}
	return &Bot{
		userName: opts.UserName,
		adapters: adapters,
		store:    opts.Store,
		seen:     opts.Dedupe,
		logger:   logger.With("component", "bot"),
		commands: make(map[string]CommandHandler),
		actions:  make(map[string]ActionHandler),
	}
}

// UserName returns the bot's display name.
func (b *Bot) UserName() string { return b.userName }

// Adapter returns the adapter for a platform tag.
func (b *Bot) Adapter(platform string) (chat.Adapter, bool) {
	a, ok := b.adapters[platform]
	return a, ok
}

// Platforms returns the configured platform tags, sorted.
func (b *Bot) Platforms() []string {
	names := make([]string, 0, len(b.adapters))
	for name := range b.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Thread returns a handle for threadID, resolving the adapter from its prefix.
func (b *Bot) Thread(threadID string) (*Thread, error) {
	platform := chat.PlatformOf(threadID)
	a, ok := b.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform %q", platform)
	}
	return b.thread(a, threadID), nil
}

func (b *Bot) thread(a chat.Adapter, threadID string) *Thread {
	return &Thread{
		id:      threadID,
		adapter: a,
		store:   b.store,
		logger:  b.logger,
	}
}

// OnNewMention sets the handler for mentions in untracked threads.
func (b *Bot) OnNewMention(h MessageHandler) { b.onMention = h }

// OnSubscribedMessage sets the handler for messages in followed threads.
func (b *Bot) OnSubscribedMessage(h MessageHandler) { b.onSubscribed = h }

// OnSlashCommand registers a handler for a command such as "/ask".
func (b *Bot) OnSlashCommand(command string, h CommandHandler) {
	b.commands[normalizeCommand(command)] = h
}

// OnReaction registers a handler for added reactions using any of emojis.
// Routes are checked in registration order.
func (b *Bot) OnReaction(emojis []string, h ReactionHandler) {
	b.reactions = append(b.reactions, reactionRoute{emojis: emojis, handler: h})
}

// OnAction registers a handler for an action identifier.
func (b *Bot) OnAction(actionID string, h ActionHandler) {
	b.actions[actionID] = h
}

func (b *Bot) reactionHandler(emoji string) ReactionHandler {
	for _, r := range b.reactions {
		if slices.Contains(r.emojis, emoji) {
			return r.handler
		}
	}
	return nil
}

func normalizeCommand(command string) string {
	command = strings.ToLower(strings.TrimSpace(command))
	if !strings.HasPrefix(command, "/") {
		command = "/" + command
	}
	return command
}
