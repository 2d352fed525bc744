// ABOUTME: Slack adapter: posting, streaming edits, thread history and reactions via the Web API.
// ABOUTME: Thread IDs are "slack:<channel>:<thread ts>"; slash commands use "slack:<channel>".

package slack

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

// Platform is the Slack platform tag.
const Platform = "slack"

// Adapter implements chat.Adapter for Slack.
type Adapter struct {
	client         *slack.Client
	signingSecret  string
	streamInterval time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	botUserID string
	botID     string
	// bots caches whether a user ID belongs to a bot.
	bots map[string]bool
}

// Resolved users kept before the cache is reset.
const maxCachedUsers = 1024

// New creates a Slack adapter.
func New(cfg config.SlackConfig, streamInterval time.Duration, logger *slog.Logger) *Adapter {
	var opts []slack.Option
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Adapter{
		client:         slack.New(cfg.BotToken, opts...),
		signingSecret:  cfg.SigningSecret,
		streamInterval: streamInterval,
		logger:         logger.With("platform", Platform),
		bots:           make(map[string]bool),
	}
}

func (a *Adapter) Name() string { return Platform }

func (a *Adapter) Capabilities() chat.Capabilities {
	return chat.Capabilities{
		Webhook:   a,
		History:   a,
		Reactions: a,
	}
}

// Subscribe is a no-op: Slack delivers every message in channels the app
// has joined.
func (a *Adapter) Subscribe(context.Context, string) error { return nil }

func (a *Adapter) Unsubscribe(context.Context, string) error { return nil }

// StartTyping is a no-op: bot tokens cannot show a typing indicator.
func (a *Adapter) StartTyping(context.Context, string) error { return nil }

// identity returns the bot's user ID and bot ID, resolving them on first
// use. ok is false while auth.test keeps failing; the next call retries.
func (a *Adapter) identity(ctx context.Context) (userID, botID string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.botUserID != "" {
		return a.botUserID, a.botID, true
	}
	resp, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.logger.Warn("resolving bot identity", "error", err)
		return "", "", false
	}
	a.botUserID, a.botID = resp.UserID, resp.BotID
	return a.botUserID, a.botID, true
}

// isBotUser reports whether userID is a bot account, via users.info.
// Lookups are cached; a failed lookup counts as a human and is not cached.
func (a *Adapter) isBotUser(ctx context.Context, userID string) bool {
	a.mu.Lock()
	isBot, ok := a.bots[userID]
	a.mu.Unlock()
	if ok {
		return isBot
	}

	u, err := a.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		a.logger.Debug("resolving user", "user", userID, "error", err)
		return false
	}

	a.mu.Lock()
	if len(a.bots) >= maxCachedUsers {
		clear(a.bots)
	}
	a.bots[userID] = u.IsBot
	a.mu.Unlock()
	return u.IsBot
}

func (a *Adapter) author(ctx context.Context, userID, botID string) chat.Author {
	meUser, meBot, _ := a.identity(ctx)
	isMe := (userID != "" && userID == meUser) || (botID != "" && botID == meBot)
	return chat.Author{
		ID:    firstNonEmpty(userID, botID),
		IsBot: botID != "" || isMe,
		IsMe:  isMe,
	}
}

// Post delivers content to the thread. Streams are posted once and then
// edited in place as text arrives.
func (a *Adapter) Post(ctx context.Context, threadID string, content chat.Content) error {
	channel, ts, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}

	switch c := content.(type) {
	case chat.Text:
		_, err = a.post(ctx, channel, ts, slack.MsgOptionText(toMrkdwn(string(c)), false))
	case *chat.Card:
		_, err = a.post(ctx, channel, ts,
			slack.MsgOptionText(toMrkdwn(c.Markdown()), false),
			slack.MsgOptionBlocks(cardBlocks(c)...),
		)
	case chat.Stream:
		return a.postStream(ctx, channel, ts, c)
	default:
		return fmt.Errorf("slack: unsupported content %T", content)
	}
	return err
}

func (a *Adapter) post(ctx context.Context, channel, threadTS string, opts ...slack.MsgOption) (string, error) {
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := a.client.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", &chat.DeliveryError{Platform: Platform, Op: "post", Err: err}
	}
	return ts, nil
}

func (a *Adapter) postStream(ctx context.Context, channel, threadTS string, s chat.Stream) error {
	var messageTS string
	return chat.StreamEdits(ctx, s, a.streamInterval, func(ctx context.Context, text string) error {
		if messageTS == "" {
			ts, err := a.post(ctx, channel, threadTS, slack.MsgOptionText(toMrkdwn(text), false))
			if err != nil {
				return err
			}
			messageTS = ts
			return nil
		}
		_, _, _, err := a.client.UpdateMessageContext(ctx, channel, messageTS, slack.MsgOptionText(toMrkdwn(text), false))
		if err != nil {
			return &chat.DeliveryError{Platform: Platform, Op: "edit", Err: err}
		}
		return nil
	})
}

// FetchMessages returns up to limit of the most recent messages in the
// thread, oldest first.
func (a *Adapter) FetchMessages(ctx context.Context, threadID string, limit int) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		channel, ts, err := decodeThreadID(threadID)
		if err != nil {
			yield(chat.Message{}, err)
			return
		}
		if ts == "" {
			yield(chat.Message{}, chat.ErrNotSupported)
			return
		}

		var msgs []slack.Message
		params := &slack.GetConversationRepliesParameters{ChannelID: channel, Timestamp: ts, Limit: 200}
		for {
			page, hasMore, cursor, err := a.client.GetConversationRepliesContext(ctx, params)
			if err != nil {
				yield(chat.Message{}, fmt.Errorf("slack: fetching replies: %w", err))
				return
			}
			msgs = append(msgs, page...)
			if !hasMore || cursor == "" {
				break
			}
			params.Cursor = cursor
		}
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		for _, m := range msgs {
			msg := chat.Message{
				ID:       m.Timestamp,
				ThreadID: threadID,
				Author:   a.author(ctx, m.User, m.BotID),
				Text:     m.Text,
				Time:     parseTS(m.Timestamp),
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// AddReaction reacts to a message in the thread's channel.
func (a *Adapter) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	channel, _, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	if err := a.client.AddReactionContext(ctx, toSlackEmoji(emoji), slack.NewRefToMessage(channel, messageID)); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "react", Err: err}
	}
	return nil
}

func threadIDFor(channel, ts string) string {
	if ts == "" {
		return chat.ThreadID(Platform, channel)
	}
	return chat.ThreadID(Platform, channel, ts)
}

func decodeThreadID(threadID string) (channel, ts string, err error) {
	if chat.PlatformOf(threadID) != Platform {
		return "", "", fmt.Errorf("slack: not a slack thread: %q", threadID)
	}
	channel, ts, _ = strings.Cut(chat.LocalID(threadID), ":")
	if channel == "" {
		return "", "", errors.New("slack: thread id has no channel")
	}
	return channel, ts, nil
}

// parseTS converts a Slack "seconds.micros" timestamp.
func parseTS(ts string) time.Time {
	secs, micros, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	us, _ := strconv.ParseInt(micros, 10, 64)
	return time.Unix(s, us*1000)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
