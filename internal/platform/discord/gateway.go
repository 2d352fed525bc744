// ABOUTME: Discord gateway (websocket) connection used for bounded listening sessions.
// ABOUTME: Reconnects are disabled so a dropped socket ends the session.

package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/morpheus-assistant/internal/chat"
)

const gatewayIntents = discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsDirectMessageReactions |
	discordgo.IntentsMessageContent

type gatewayListener struct {
	adapter *Adapter
}

// Connect opens a new gateway session.
func (l *gatewayListener) Connect(ctx context.Context) (chat.GatewayConn, error) {
	session, err := discordgo.New("Bot " + l.adapter.token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating gateway session: %w", err)
	}
	session.Identify.Intents = gatewayIntents
	session.ShouldReconnectOnError = false
	session.Client = l.adapter.session.Client

	conn := newGatewayConn(l.adapter, session)

	opened := make(chan error, 1)
	go func() { opened <- session.Open() }()
	select {
	case err := <-opened:
		if err != nil {
			return nil, fmt.Errorf("discord: opening gateway: %w", err)
		}
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				_ = session.Close()
			}
		}()
		return nil, ctx.Err()
	}
	return conn, nil
}

type gatewayConn struct {
	adapter *Adapter
	session *discordgo.Session

	events  chan chat.Event
	dropped chan error
	done    chan struct{}
	once    sync.Once
}

func newGatewayConn(a *Adapter, session *discordgo.Session) *gatewayConn {
	c := &gatewayConn{
		adapter: a,
		session: session,
		events:  make(chan chat.Event, 64),
		dropped: make(chan error, 1),
		done:    make(chan struct{}),
	}
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			a.setBotID(r.User.ID)
		}
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if ev, ok := a.messageEvent(m.Message); ok {
			c.push(ev)
		}
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		var user *discordgo.User
		if r.Member != nil {
			user = r.Member.User
		}
		c.push(a.reactionEvent(r.MessageReaction, user, true))
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		c.push(a.reactionEvent(r.MessageReaction, nil, false))
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		select {
		case c.dropped <- errors.New("discord: gateway disconnected"):
		default:
		}
	})
	return c
}

func (c *gatewayConn) push(ev chat.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Serve emits events until ctx ends or the socket drops.
func (c *gatewayConn) Serve(ctx context.Context, emit func(chat.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case err := <-c.dropped:
			return err
		case ev := <-c.events:
			emit(ev)
		}
	}
}

func (c *gatewayConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.session.Close()
	})
	return err
}

// messageEvent converts a gateway message. Messages without content or
// author are skipped.
func (a *Adapter) messageEvent(m *discordgo.Message) (chat.Event, bool) {
	if m == nil || m.Author == nil {
		return nil, false
	}
	msg := a.message(m)
	return chat.MessageReceived{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: msg.ThreadID,
			EventID:  m.ID,
		},
		Message:   msg,
		Mentioned: m.GuildID == "" || a.mentioned(m),
	}, true
}

func (a *Adapter) mentioned(m *discordgo.Message) bool {
	me := a.botID()
	if me == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == me {
			return true
		}
	}
	return false
}

// reactionEvent converts a reaction. user is the reacting member when the
// gateway sent one; otherwise an added reaction's user is looked up so
// bots are flagged.
func (a *Adapter) reactionEvent(r *discordgo.MessageReaction, user *discordgo.User, added bool) chat.Event {
	op := "remove"
	if added {
		op = "add"
	}
	switch {
	case user != nil && user.ID == r.UserID:
	case added:
		user = a.lookupUser(r.UserID)
	default:
		user = &discordgo.User{ID: r.UserID}
	}
	return chat.Reaction{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadIDFor(r.ChannelID),
			EventID:  fmt.Sprintf("%s/%s/%s/%s", op, r.MessageID, r.UserID, r.Emoji.APIName()),
		},
		MessageID: r.MessageID,
		Emoji:     fromDiscordEmoji(r.Emoji.Name),
		Added:     added,
		User:      a.author(user),
	}
}

// lookupUser resolves a user through the REST API, caching the result.
// A failed lookup yields a bare user with only the ID.
func (a *Adapter) lookupUser(id string) *discordgo.User {
	a.mu.Lock()
	u, ok := a.users[id]
	a.mu.Unlock()
	if ok {
		return u
	}

	u, err := a.session.User(id)
	if err != nil || u == nil || u.ID != id {
		a.logger.Debug("resolving reacting user", "user", id, "error", err)
		return &discordgo.User{ID: id}
	}

	a.mu.Lock()
	if len(a.users) >= maxCachedUsers {
		clear(a.users)
	}
	a.users[id] = u
	a.mu.Unlock()
	return u
}
