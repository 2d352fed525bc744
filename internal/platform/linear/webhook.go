// ABOUTME: Verifies Linear webhook deliveries and maps new comments to message events.
// ABOUTME: The Linear-Signature HMAC and delivery timestamp are checked before dispatch.

package linear

import (
	"cmp"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/morpheus-assistant/internal/chat"
)

const (
	maxBodyBytes = 1 << 20
	// maxClockSkew bounds how old a delivery may be, against replays.
	maxClockSkew = time.Minute
)

// webhookPayload is the envelope of every Linear data change webhook.
type webhookPayload struct {
	Action           string          `json:"action"`
	Type             string          `json:"type"`
	Data             json.RawMessage `json:"data"`
	URL              string          `json:"url"`
	WebhookTimestamp int64           `json:"webhookTimestamp"`
}

type commentData struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	IssueID   string `json:"issueId"`
	ParentID  string `json:"parentId"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
	User      *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	BotActor *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"botActor"`
}

// ParseWebhook implements chat.WebhookReceiver.
func (a *Adapter) ParseWebhook(r *http.Request) (*chat.WebhookResult, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if err := a.verify(r.Header.Get("Linear-Signature"), body); err != nil {
		return nil, err
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decoding webhook: %w", err)
	}
	sent := time.UnixMilli(p.WebhookTimestamp)
	if skew := a.now().Sub(sent).Abs(); p.WebhookTimestamp == 0 || skew > maxClockSkew {
		return nil, fmt.Errorf("%w: stale delivery", chat.ErrAuthentication)
	}

	if p.Type != "Comment" || p.Action != "create" {
		return nil, fmt.Errorf("%w: %s %s", chat.ErrUnsupportedEvent, p.Type, p.Action)
	}
	var c commentData
	if err := json.Unmarshal(p.Data, &c); err != nil {
		return nil, fmt.Errorf("decoding comment: %w", err)
	}
	if c.ID == "" || c.IssueID == "" {
		return nil, fmt.Errorf("%w: comment without issue", chat.ErrUnsupportedEvent)
	}
	return a.commentEvent(r.Context(), p, c)
}

func (a *Adapter) verify(signature string, body []byte) error {
	if signature == "" {
		return fmt.Errorf("%w: missing Linear-Signature", chat.ErrAuthentication)
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", chat.ErrAuthentication)
	}
	mac := hmac.New(sha256.New, a.webhookSecret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", chat.ErrAuthentication)
	}
	return nil
}

func (a *Adapter) commentEvent(ctx context.Context, p webhookPayload, c commentData) (*chat.WebhookResult, error) {
	me, ok := a.identity(ctx)
	if !ok {
		// Without our own ID every comment, ours included, looks foreign.
		return nil, fmt.Errorf("%w: bot identity unknown", chat.ErrUnsupportedEvent)
	}

	// Replies stay under the top-level comment; Linear nests one level deep.
	threadID := threadIDFor(c.IssueID, cmp.Or(c.ParentID, c.ID))

	author := chat.Author{ID: cmp.Or(c.UserID, c.ID)}
	switch {
	case c.User != nil:
		author.ID, author.Name = c.User.ID, c.User.Name
	case c.BotActor != nil:
		author.ID, author.Name, author.IsBot = c.BotActor.ID, c.BotActor.Name, true
	}
	if c.UserID != "" {
		author.ID = c.UserID
	}
	author.IsMe = author.ID == me.ID
	author.IsBot = author.IsBot || author.IsMe

	created, _ := time.Parse(time.RFC3339, c.CreatedAt)
	msg := chat.Message{
		ID:       c.ID,
		ThreadID: threadID,
		Author:   author,
		Text:     c.Body,
		Time:     created,
	}
	return &chat.WebhookResult{Events: []chat.Event{chat.MessageReceived{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadID,
			EventID:  "comment:" + c.ID,
			Raw:      p,
		},
		Message:   msg,
		Mentioned: !author.IsMe && mentions(c.Body, me),
	}}}, nil
}

// mentions reports whether body addresses the viewer, either as a plain
// "@handle" or as a profile link Linear's editor inserts for mentions.
func mentions(body string, me viewer) bool {
	lower := strings.ToLower(body)
	for _, handle := range []string{me.DisplayName, me.Name} {
		if handle == "" {
			continue
		}
		h := strings.ToLower(handle)
		if strings.Contains(lower, "@"+h) || strings.Contains(lower, "/profiles/"+h) {
			return true
		}
	}
	return false
}
