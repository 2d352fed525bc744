// ABOUTME: Matrix /sync long-poll loop used for bounded listening sessions.
// ABOUTME: Events from the initial sync are skipped; invites are accepted automatically.

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/morpheus-assistant/internal/chat"
)

type syncListener struct {
	adapter *Adapter
}

// Connect verifies the access token and prepares a fresh sync client, so
// each session starts from the homeserver's current position.
func (l *syncListener) Connect(ctx context.Context) (chat.GatewayConn, error) {
	a := l.adapter
	client, err := mautrix.NewClient(a.cfg.Homeserver, a.userID, a.cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: creating sync client: %w", err)
	}
	client.Client = a.client.Client

	if _, err := client.Whoami(ctx); err != nil {
		return nil, fmt.Errorf("matrix: verifying access token: %w", err)
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("matrix: unexpected syncer type %T", client.Syncer)
	}
	conn := &syncConn{adapter: a, client: client}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, conn.onMessage)
	syncer.OnEventType(event.EventReaction, conn.onReaction)
	syncer.OnEventType(event.StateMember, conn.onMembership)
	client.Syncer = dropOnFailure{syncer}
	return conn, nil
}

// dropOnFailure ends the sync loop on the first failed request instead of
// retrying, so the session reports the drop.
type dropOnFailure struct {
	*mautrix.DefaultSyncer
}

func (dropOnFailure) OnFailedSync(_ *mautrix.RespSync, err error) (time.Duration, error) {
	return 0, err
}

type syncConn struct {
	adapter *Adapter
	client  *mautrix.Client

	mu     sync.Mutex
	emit   func(chat.Event)
	cancel context.CancelFunc
	closed bool
}

// Serve runs the sync loop until ctx ends, Close is called, or the
// homeserver request fails.
func (c *syncConn) Serve(ctx context.Context, emit func(chat.Event)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.emit = emit
	c.cancel = cancel
	c.mu.Unlock()

	err := c.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err == nil {
		return errors.New("matrix: sync loop stopped")
	}
	return fmt.Errorf("matrix: sync: %w", err)
}

func (c *syncConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *syncConn) push(ev chat.Event) {
	c.mu.Lock()
	emit := c.emit
	c.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (c *syncConn) onMessage(_ context.Context, evt *event.Event) {
	content, ok := messageContent(evt)
	if !ok || isEdit(content) || content.MsgType != event.MsgText {
		return
	}
	// Top-level messages start a thread rooted at themselves.
	root := threadRoot(content)
	if root == "" {
		root = evt.ID
	}
	a := c.adapter
	c.push(chat.MessageReceived{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadIDFor(evt.RoomID, root),
			EventID:  string(evt.ID),
			Raw:      evt,
		},
		Message:   a.message(evt, content, root),
		Mentioned: a.mentioned(content),
	})
}

func (c *syncConn) onReaction(_ context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
	if !ok {
		content = &event.ReactionEventContent{}
		if err := json.Unmarshal(evt.Content.VeryRaw, content); err != nil {
			return
		}
	}
	rel := content.RelatesTo
	if rel.Type != event.RelAnnotation || rel.EventID == "" {
		return
	}
	c.push(chat.Reaction{
		Envelope: chat.Envelope{
			Platform: Platform,
			// Reactions do not say which thread the target belongs to.
			ThreadID: threadIDFor(evt.RoomID, ""),
			EventID:  string(evt.ID),
			Raw:      evt,
		},
		MessageID: string(rel.EventID),
		Emoji:     fromMatrixEmoji(rel.Key),
		Added:     true,
		User:      c.adapter.author(evt.Sender),
	})
}

func (c *syncConn) onMembership(ctx context.Context, evt *event.Event) {
	a := c.adapter
	if evt.StateKey == nil || id.UserID(*evt.StateKey) != a.userID {
		return
	}
	if evt.Content.AsMember().Membership != event.MembershipInvite {
		return
	}
	if _, err := c.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		a.logger.Warn("joining room after invite", "room", evt.RoomID.String(), "error", err)
		return
	}
	a.logger.Info("joined room after invite", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}
