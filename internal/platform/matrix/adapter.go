// ABOUTME: Matrix adapter: posting with HTML bodies, streaming edits, history, reactions and typing.
// ABOUTME: Thread IDs are "matrix:<room id>" or "matrix:<room id>:<thread root event id>".

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

// Platform is the Matrix platform tag.
const Platform = "matrix"

const (
	typingTimeout = 30 * time.Second
	// Largest page requested from /messages.
	historyPage = 100
)

// Adapter implements chat.Adapter for a Matrix bot account.
type Adapter struct {
	client         *mautrix.Client
	cfg            config.MatrixConfig
	userID         id.UserID
	streamInterval time.Duration
	logger         *slog.Logger
}

// New creates a Matrix adapter authenticated with an access token.
func New(cfg config.MatrixConfig, streamInterval time.Duration, logger *slog.Logger) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: creating client: %w", err)
	}
	return &Adapter{
		client:         client,
		cfg:            cfg,
		userID:         id.UserID(cfg.UserID),
		streamInterval: streamInterval,
		logger:         logger.With("platform", Platform),
	}, nil
}

func (a *Adapter) Name() string { return Platform }

// Capabilities: Matrix has no webhook ingress; events arrive through /sync.
func (a *Adapter) Capabilities() chat.Capabilities {
	return chat.Capabilities{
		History:   a,
		Reactions: a,
		Gateway:   &syncListener{adapter: a},
	}
}

func (a *Adapter) Subscribe(context.Context, string) error { return nil }

func (a *Adapter) Unsubscribe(context.Context, string) error { return nil }

func (a *Adapter) StartTyping(ctx context.Context, threadID string) error {
	room, _, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	if _, err := a.client.UserTyping(ctx, room, true, typingTimeout); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "typing", Err: err}
	}
	return nil
}

// Post sends content to the room, inside the thread when the thread ID
// names a root event.
func (a *Adapter) Post(ctx context.Context, threadID string, content chat.Content) error {
	room, root, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	switch c := content.(type) {
	case chat.Text:
		_, err := a.send(ctx, room, root, string(c))
		return err
	case *chat.Card:
		_, err := a.send(ctx, room, root, c.Markdown())
		return err
	case chat.Stream:
		return a.postStream(ctx, room, root, c)
	default:
		return fmt.Errorf("matrix: unsupported content %T", content)
	}
}

func (a *Adapter) send(ctx context.Context, room id.RoomID, root id.EventID, markdown string) (id.EventID, error) {
	content := textContent(markdown)
	if root != "" {
		content.RelatesTo = &event.RelatesTo{
			Type:          event.RelThread,
			EventID:       root,
			IsFallingBack: true,
			InReplyTo:     &event.InReplyTo{EventID: root},
		}
	}
	resp, err := a.client.SendMessageEvent(ctx, room, event.EventMessage, content)
	if err != nil {
		return "", &chat.DeliveryError{Platform: Platform, Op: "post", Err: err}
	}
	return resp.EventID, nil
}

func (a *Adapter) postStream(ctx context.Context, room id.RoomID, root id.EventID, s chat.Stream) error {
	var original id.EventID
	return chat.StreamEdits(ctx, s, a.streamInterval, func(ctx context.Context, text string) error {
		if original == "" {
			eventID, err := a.send(ctx, room, root, text)
			if err != nil {
				return err
			}
			original = eventID
			return nil
		}
		if _, err := a.client.SendMessageEvent(ctx, room, event.EventMessage, editContent(original, text)); err != nil {
			return &chat.DeliveryError{Platform: Platform, Op: "edit", Err: err}
		}
		return nil
	})
}

// FetchMessages reads the most recent page of room history and keeps the
// messages belonging to the thread, oldest first.
func (a *Adapter) FetchMessages(ctx context.Context, threadID string, limit int) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		room, root, err := decodeThreadID(threadID)
		if err != nil {
			yield(chat.Message{}, err)
			return
		}
		resp, err := a.client.Messages(ctx, room, "", "", mautrix.DirectionBackward, nil, historyPage)
		if err != nil {
			yield(chat.Message{}, fmt.Errorf("matrix: fetching messages: %w", err))
			return
		}

		var out []chat.Message
		for _, evt := range resp.Chunk {
			if evt.Type.Type != event.EventMessage.Type {
				continue
			}
			c, ok := messageContent(evt)
			if !ok || isEdit(c) || threadRoot(c) != root && evt.ID != root {
				continue
			}
			out = append(out, a.message(evt, c, root))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		// Chunk is newest first.
		slices.Reverse(out)
		for _, m := range out {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (a *Adapter) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	room, _, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	if _, err := a.client.SendReaction(ctx, room, id.EventID(messageID), toMatrixEmoji(emoji)); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "react", Err: err}
	}
	return nil
}

func (a *Adapter) author(sender id.UserID) chat.Author {
	name, _, _ := strings.Cut(strings.TrimPrefix(string(sender), "@"), ":")
	return chat.Author{
		ID:   string(sender),
		Name: name,
		IsMe: sender == a.userID,
	}
}

func (a *Adapter) message(evt *event.Event, c *event.MessageEventContent, root id.EventID) chat.Message {
	return chat.Message{
		ID:       string(evt.ID),
		ThreadID: threadIDFor(evt.RoomID, root),
		Author:   a.author(evt.Sender),
		Text:     c.Body,
		Time:     time.UnixMilli(evt.Timestamp),
	}
}

// mentioned reports whether a message addresses the bot, either through
// m.mentions or by its full user ID in the body.
func (a *Adapter) mentioned(c *event.MessageEventContent) bool {
	if c.Mentions != nil && slices.Contains(c.Mentions.UserIDs, a.userID) {
		return true
	}
	return strings.Contains(c.Body, string(a.userID))
}

// messageContent returns the parsed message content of evt. Events read
// from /messages are not parsed by the client, so the raw JSON is decoded.
func messageContent(evt *event.Event) (*event.MessageEventContent, bool) {
	if c, ok := evt.Content.Parsed.(*event.MessageEventContent); ok {
		return c, true
	}
	var c event.MessageEventContent
	if err := json.Unmarshal(evt.Content.VeryRaw, &c); err != nil {
		return nil, false
	}
	return &c, true
}

func isEdit(c *event.MessageEventContent) bool {
	return c.RelatesTo != nil && c.RelatesTo.Type == event.RelReplace
}

func threadRoot(c *event.MessageEventContent) id.EventID {
	if c.RelatesTo != nil && c.RelatesTo.Type == event.RelThread {
		return c.RelatesTo.EventID
	}
	return ""
}

var renderer = goldmark.New()

func textContent(md string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: md}
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(md), &buf); err == nil {
		content.Format = event.FormatHTML
		content.FormattedBody = strings.TrimSpace(buf.String())
	}
	return content
}

func editContent(original id.EventID, md string) *event.MessageEventContent {
	replacement := textContent(md)
	edit := textContent(md)
	edit.Body = "* " + edit.Body
	if edit.FormattedBody != "" {
		edit.FormattedBody = "* " + edit.FormattedBody
	}
	edit.NewContent = replacement
	edit.RelatesTo = &event.RelatesTo{Type: event.RelReplace, EventID: original}
	return edit
}

func threadIDFor(room id.RoomID, root id.EventID) string {
	if root == "" {
		return chat.ThreadID(Platform, string(room))
	}
	return chat.ThreadID(Platform, string(room), string(root))
}

// decodeThreadID splits a thread ID into room and optional thread root.
// Room IDs contain colons; event IDs start with '$', which room IDs never
// contain.
func decodeThreadID(threadID string) (id.RoomID, id.EventID, error) {
	local := chat.LocalID(threadID)
	if chat.PlatformOf(threadID) != Platform || !strings.HasPrefix(local, "!") {
		return "", "", fmt.Errorf("matrix: not a matrix thread: %q", threadID)
	}
	if i := strings.LastIndex(local, ":$"); i >= 0 {
		return id.RoomID(local[:i]), id.EventID(local[i+1:]), nil
	}
	return id.RoomID(local), "", nil
}

var matrixEmoji = map[string]string{
	chat.EmojiThumbsUp: "👍",
	chat.EmojiHeart:    "❤\ufe0f",
	chat.EmojiRocket:   "🚀",
}

func toMatrixEmoji(name string) string {
	if e, ok := matrixEmoji[name]; ok {
		return e
	}
	return name
}

func fromMatrixEmoji(key string) string {
	trimmed := strings.TrimSuffix(key, "\ufe0f")
	for name, e := range matrixEmoji {
		if strings.TrimSuffix(e, "\ufe0f") == trimmed {
			return name
		}
	}
	return key
}
