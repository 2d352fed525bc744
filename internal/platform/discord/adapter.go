// ABOUTME: Discord adapter: posting, streaming edits, history, reactions and typing via the REST API.
// ABOUTME: Thread IDs are "discord:<channel id>", or "discord:<channel id>:<interaction id>" for slash command replies.

package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

// Platform is the Discord platform tag.
const Platform = "discord"

// Discord rejects message content longer than this.
const maxContentLen = 2000

// Deferred interaction responses can be edited for this long.
const interactionTTL = 15 * time.Minute

// Resolved reactors kept before the cache is reset.
const maxCachedUsers = 1024

// pendingInteraction is a deferred slash command awaiting its reply.
// The first delivery edits the deferred response; later ones are followups.
type pendingInteraction struct {
	interaction *discordgo.Interaction
	expires     time.Time
	claimed     bool
}

// Adapter implements chat.Adapter for Discord.
type Adapter struct {
	session        *discordgo.Session
	token          string
	publicKey      ed25519.PublicKey
	streamInterval time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	botUserID string
	pending   map[string]*pendingInteraction
	users     map[string]*discordgo.User
}

// New creates a Discord adapter. The public key is the hex-encoded
// application key used to verify interaction requests.
func New(cfg config.DiscordConfig, streamInterval time.Duration, logger *slog.Logger) (*Adapter, error) {
	key, err := hex.DecodeString(cfg.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, errors.New("discord: public_key must be a hex-encoded ed25519 key")
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	return &Adapter{
		session:        session,
		token:          cfg.BotToken,
		publicKey:      ed25519.PublicKey(key),
		streamInterval: streamInterval,
		logger:         logger.With("platform", Platform),
		// Bot users share the application's snowflake.
		botUserID: cfg.ApplicationID,
		pending:   make(map[string]*pendingInteraction),
		users:     make(map[string]*discordgo.User),
	}, nil
}

func (a *Adapter) Name() string { return Platform }

func (a *Adapter) Capabilities() chat.Capabilities {
	return chat.Capabilities{
		Webhook:   a,
		History:   a,
		Reactions: a,
		Gateway:   &gatewayListener{adapter: a},
	}
}

// Subscribe is a no-op: gateway sessions receive every message the bot can see.
func (a *Adapter) Subscribe(context.Context, string) error { return nil }

func (a *Adapter) Unsubscribe(context.Context, string) error { return nil }

func (a *Adapter) StartTyping(ctx context.Context, threadID string) error {
	channel, _, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := a.session.ChannelTyping(channel, discordgo.WithContext(ctx)); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "typing", Err: err}
	}
	return nil
}

func (a *Adapter) botID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) setBotID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) author(u *discordgo.User) chat.Author {
	if u == nil {
		return chat.Author{}
	}
	me := a.botID()
	return chat.Author{
		ID:    u.ID,
		Name:  u.DisplayName(),
		IsBot: u.Bot,
		IsMe:  me != "" && u.ID == me,
	}
}

// deferInteraction remembers a deferred slash command until its
// response token expires.
func (a *Adapter) deferInteraction(i *discordgo.Interaction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	for id, p := range a.pending {
		if now.After(p.expires) {
			delete(a.pending, id)
		}
	}
	a.pending[i.ID] = &pendingInteraction{interaction: i, expires: now.Add(interactionTTL)}
}

// lookupInteraction returns the pending interaction with id, or nil when it
// is unknown or its token has expired.
func (a *Adapter) lookupInteraction(id string) *pendingInteraction {
	if id == "" {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pending[id]
	if !ok {
		return nil
	}
	if time.Now().After(p.expires) {
		delete(a.pending, id)
		return nil
	}
	return p
}

// claim takes the deferred response for one delivery. It returns false
// once another delivery holds or has completed it.
func (a *Adapter) claim(p *pendingInteraction) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.claimed {
		return false
	}
	p.claimed = true
	return true
}

// release hands an unanswered deferred response back after a failed delivery.
func (a *Adapter) release(p *pendingInteraction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p.claimed = false
}

// Post delivers content to the channel. Replies to a slash command thread
// complete that interaction's deferred response, then continue as followups.
func (a *Adapter) Post(ctx context.Context, threadID string, content chat.Content) error {
	channel, interactionID, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	pending := a.lookupInteraction(interactionID)

	switch c := content.(type) {
	case chat.Text:
		return a.send(ctx, channel, pending, &discordgo.MessageSend{Content: truncate(string(c))})
	case *chat.Card:
		return a.send(ctx, channel, pending, cardMessage(c))
	case chat.Stream:
		return a.postStream(ctx, channel, pending, c)
	default:
		return fmt.Errorf("discord: unsupported content %T", content)
	}
}

func (a *Adapter) send(ctx context.Context, channel string, pending *pendingInteraction, msg *discordgo.MessageSend) error {
	if pending != nil {
		err := a.sendInteraction(ctx, pending, msg)
		if err == nil {
			return nil
		}
		a.logger.Warn("answering interaction failed, posting to channel instead",
			"channel", channel, "interaction", pending.interaction.ID, "error", err)
	}
	if _, err := a.session.ChannelMessageSendComplex(channel, msg, discordgo.WithContext(ctx)); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "post", Err: err}
	}
	return nil
}

func (a *Adapter) sendInteraction(ctx context.Context, p *pendingInteraction, msg *discordgo.MessageSend) error {
	if a.claim(p) {
		_, err := a.session.InteractionResponseEdit(p.interaction, &discordgo.WebhookEdit{
			Content:    &msg.Content,
			Embeds:     &msg.Embeds,
			Components: &msg.Components,
		}, discordgo.WithContext(ctx))
		if err != nil {
			a.release(p)
			return err
		}
		return nil
	}
	_, err := a.session.FollowupMessageCreate(p.interaction, true, &discordgo.WebhookParams{
		Content:    msg.Content,
		Embeds:     msg.Embeds,
		Components: msg.Components,
	}, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) postStream(ctx context.Context, channel string, pending *pendingInteraction, s chat.Stream) error {
	if pending != nil {
		return a.streamInteraction(ctx, pending, s)
	}
	var messageID string
	return chat.StreamEdits(ctx, s, a.streamInterval, func(ctx context.Context, text string) error {
		text = truncate(text)
		if messageID == "" {
			m, err := a.session.ChannelMessageSend(channel, text, discordgo.WithContext(ctx))
			if err != nil {
				return &chat.DeliveryError{Platform: Platform, Op: "post", Err: err}
			}
			messageID = m.ID
			return nil
		}
		if _, err := a.session.ChannelMessageEdit(channel, messageID, text, discordgo.WithContext(ctx)); err != nil {
			return &chat.DeliveryError{Platform: Platform, Op: "edit", Err: err}
		}
		return nil
	})
}

// streamInteraction streams into the deferred response, or into a followup
// when the response is already taken. A stream that fails before any output
// lands releases the deferred response for the failure notice.
func (a *Adapter) streamInteraction(ctx context.Context, p *pendingInteraction, s chat.Stream) error {
	original := a.claim(p)
	landed := false
	var followupID string
	err := chat.StreamEdits(ctx, s, a.streamInterval, func(ctx context.Context, text string) error {
		text = truncate(text)
		var err error
		switch {
		case original:
			_, err = a.session.InteractionResponseEdit(p.interaction, &discordgo.WebhookEdit{Content: &text}, discordgo.WithContext(ctx))
			if err == nil {
				landed = true
			}
		case followupID == "":
			var m *discordgo.Message
			m, err = a.session.FollowupMessageCreate(p.interaction, true, &discordgo.WebhookParams{Content: text}, discordgo.WithContext(ctx))
			if err == nil {
				followupID = m.ID
			}
		default:
			_, err = a.session.FollowupMessageEdit(p.interaction, followupID, &discordgo.WebhookEdit{Content: &text}, discordgo.WithContext(ctx))
		}
		if err != nil {
			return &chat.DeliveryError{Platform: Platform, Op: "edit", Err: err}
		}
		return nil
	})
	if original && !landed {
		a.release(p)
	}
	return err
}

// FetchMessages returns up to limit of the channel's most recent messages,
// oldest first.
func (a *Adapter) FetchMessages(ctx context.Context, threadID string, limit int) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		channel, _, err := decodeThreadID(threadID)
		if err != nil {
			yield(chat.Message{}, err)
			return
		}
		if limit <= 0 || limit > 100 {
			limit = 100
		}
		msgs, err := a.session.ChannelMessages(channel, limit, "", "", "", discordgo.WithContext(ctx))
		if err != nil {
			yield(chat.Message{}, fmt.Errorf("discord: fetching messages: %w", err))
			return
		}
		// The API returns newest first.
		slices.Reverse(msgs)
		for _, m := range msgs {
			if !yield(a.message(m), nil) {
				return
			}
		}
	}
}

func (a *Adapter) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	channel, _, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := a.session.MessageReactionAdd(channel, messageID, toDiscordEmoji(emoji), discordgo.WithContext(ctx)); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "react", Err: err}
	}
	return nil
}

func (a *Adapter) message(m *discordgo.Message) chat.Message {
	return chat.Message{
		ID:       m.ID,
		ThreadID: threadIDFor(m.ChannelID),
		Author:   a.author(m.Author),
		Text:     m.Content,
		Time:     m.Timestamp,
	}
}

func threadIDFor(channel string) string {
	return chat.ThreadID(Platform, channel)
}

// interactionThreadID scopes replies to a single slash command.
func interactionThreadID(channel, interactionID string) string {
	return chat.ThreadID(Platform, channel, interactionID)
}

// decodeThreadID returns the channel and, for slash command threads, the
// interaction the reply belongs to.
func decodeThreadID(threadID string) (channel, interactionID string, err error) {
	if chat.PlatformOf(threadID) != Platform || chat.LocalID(threadID) == "" {
		return "", "", fmt.Errorf("discord: not a discord thread: %q", threadID)
	}
	channel, interactionID, _ = strings.Cut(chat.LocalID(threadID), ":")
	if channel == "" {
		return "", "", fmt.Errorf("discord: not a discord thread: %q", threadID)
	}
	return channel, interactionID, nil
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxContentLen {
		return s
	}
	return string(r[:maxContentLen-1]) + "…"
}
