// ABOUTME: Tests for event classification, routing and failure isolation in the dispatcher.
// ABOUTME: Uses the chattest recording adapter and the in-memory store.

package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/chat/chattest"
	"github.com/2389/morpheus-assistant/internal/dedupe"
	"github.com/2389/morpheus-assistant/internal/store"
)

const threadID = "slack:C1:1715712345.000100"

func newTestBot(t *testing.T, adapter *chattest.Adapter) (*Bot, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	cache := dedupe.New(time.Minute, 100, 0)
	t.Cleanup(cache.Close)
	b := New(Options{
		UserName: "morpheus-assistant",
		Adapters: map[string]chat.Adapter{adapter.Name(): adapter},
		Store:    st,
		Dedupe:   cache,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return b, st
}

func envelope(eventID string) chat.Envelope {
	return chat.Envelope{Platform: "slack", ThreadID: threadID, EventID: eventID}
}

func userMessage(text string) chat.Message {
	return chat.Message{ID: "m1", ThreadID: threadID, Text: text, Author: chat.Author{ID: "U1", Name: "alice"}}
}

func botMessage(text string) chat.Message {
	m := userMessage(text)
	m.Author = chat.Author{ID: "B1", IsBot: true, IsMe: true}
	return m
}

func TestDispatch_MessageReceivedClassification(t *testing.T) {
	tests := []struct {
		name       string
		subscribed bool
		mentioned  bool
		wantKind   string
	}{
		{"subscribed thread", true, false, "subscribed"},
		{"subscribed thread with mention", true, true, "subscribed"},
		{"mention in untracked thread", false, true, "mention"},
		{"plain message in untracked thread", false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := chattest.New("slack")
			b, st := newTestBot(t, adapter)
			require.NoError(t, st.SetSubscribed(context.Background(), threadID, tt.subscribed))

			var got string
			b.OnNewMention(func(context.Context, *Thread, chat.Message) error { got = "mention"; return nil })
			b.OnSubscribedMessage(func(context.Context, *Thread, chat.Message) error { got = "subscribed"; return nil })

			b.Dispatch(context.Background(), chat.MessageReceived{
				Envelope:  envelope(""),
				Message:   userMessage("hi"),
				Mentioned: tt.mentioned,
			})
			assert.Equal(t, tt.wantKind, got)
		})
	}
}

func TestDispatch_SelfMessageSuppressed(t *testing.T) {
	adapter := chattest.New("slack")
	b, st := newTestBot(t, adapter)
	require.NoError(t, st.SetSubscribed(context.Background(), threadID, true))

	calls := 0
	b.OnSubscribedMessage(func(context.Context, *Thread, chat.Message) error { calls++; return nil })

	b.Dispatch(context.Background(), chat.SubscribedMessage{Envelope: envelope(""), Message: botMessage("my own reply")})
	b.Dispatch(context.Background(), chat.MessageReceived{Envelope: envelope(""), Message: botMessage("my own reply"), Mentioned: true})

	assert.Zero(t, calls)
	assert.Empty(t, adapter.Posts())
}

func TestDispatch_HandlerErrorPostsOneApology(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)
	b.OnNewMention(func(context.Context, *Thread, chat.Message) error {
		return errors.New("boom")
	})

	assert.NotPanics(t, func() {
		b.Dispatch(context.Background(), chat.NewMention{Envelope: envelope(""), Message: userMessage("hi")})
	})

	posts := adapter.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, chat.Apology, posts[0].Text)
	assert.Equal(t, threadID, posts[0].ThreadID)
}

func TestDispatch_HandlerPanicPostsOneApology(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)
	b.OnAction("explode", func(context.Context, *Thread, chat.Action) error {
		panic("kaboom")
	})

	assert.NotPanics(t, func() {
		b.Dispatch(context.Background(), chat.Action{Envelope: envelope(""), ActionID: "explode"})
	})

	posts := adapter.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, chat.Apology, posts[0].Text)
}

func TestDispatch_ApologyDeliveryFailureDoesNotEscape(t *testing.T) {
	adapter := chattest.New("slack").FailPosts(errors.New("offline"))
	b, _ := newTestBot(t, adapter)
	b.OnNewMention(func(context.Context, *Thread, chat.Message) error { return errors.New("boom") })

	assert.NotPanics(t, func() {
		b.Dispatch(context.Background(), chat.NewMention{Envelope: envelope(""), Message: userMessage("hi")})
	})
}

func TestDispatch_DuplicateEventRunsOnce(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)

	calls := 0
	b.OnNewMention(func(context.Context, *Thread, chat.Message) error { calls++; return nil })

	ev := chat.NewMention{Envelope: envelope("Ev42"), Message: userMessage("hi")}
	b.Dispatch(context.Background(), ev)
	b.Dispatch(context.Background(), ev)

	assert.Equal(t, 1, calls)
}

func TestDispatch_UnknownSlashCommand(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)

	b.Dispatch(context.Background(), chat.SlashCommand{Envelope: envelope(""), Command: "/weather", Text: "today"})

	posts := adapter.Posts()
	require.Len(t, posts, 1)
	assert.Equal(t, "Unknown command: `/weather`.", posts[0].Text)
}

func TestDispatch_SlashCommandRoutedByName(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)

	var got chat.SlashCommand
	b.OnSlashCommand("ask", func(_ context.Context, _ *Thread, cmd chat.SlashCommand) error {
		got = cmd
		return nil
	})

	b.Dispatch(context.Background(), chat.SlashCommand{Envelope: envelope(""), Command: "/ASK", Text: "what is MOR?"})
	assert.Equal(t, "what is MOR?", got.Text)
	assert.Empty(t, adapter.Posts())
}

func TestDispatch_ReactionFiltering(t *testing.T) {
	tests := []struct {
		name     string
		reaction chat.Reaction
		want     bool
	}{
		{"added by user", chat.Reaction{Emoji: chat.EmojiRocket, Added: true, User: chat.Author{ID: "U1"}}, true},
		{"removed", chat.Reaction{Emoji: chat.EmojiRocket, Added: false, User: chat.Author{ID: "U1"}}, false},
		{"added by a bot", chat.Reaction{Emoji: chat.EmojiRocket, Added: true, User: chat.Author{ID: "B2", IsBot: true}}, false},
		{"unrouted emoji", chat.Reaction{Emoji: "tada", Added: true, User: chat.Author{ID: "U1"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := chattest.New("slack")
			b, _ := newTestBot(t, adapter)

			called := false
			b.OnReaction([]string{chat.EmojiThumbsUp, chat.EmojiHeart, chat.EmojiRocket}, func(context.Context, *Thread, chat.Reaction) error {
				called = true
				return nil
			})

			tt.reaction.Envelope = envelope("")
			b.Dispatch(context.Background(), tt.reaction)
			assert.Equal(t, tt.want, called)
		})
	}
}

func TestDispatch_UnknownActionDropped(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)

	b.Dispatch(context.Background(), chat.Action{Envelope: envelope(""), ActionID: "nope"})
	assert.Empty(t, adapter.Posts())
}

func TestDispatch_UnconfiguredPlatformDropped(t *testing.T) {
	adapter := chattest.New("slack")
	b, _ := newTestBot(t, adapter)

	called := false
	b.OnNewMention(func(context.Context, *Thread, chat.Message) error { called = true; return nil })

	b.Dispatch(context.Background(), chat.NewMention{
		Envelope: chat.Envelope{Platform: "teams", ThreadID: "teams:1"},
		Message:  userMessage("hi"),
	})
	assert.False(t, called)
}

func TestThread_SubscribeIsIdempotent(t *testing.T) {
	adapter := chattest.New("slack")
	b, st := newTestBot(t, adapter)

	th, err := b.Thread(threadID)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, th.Subscribe(ctx))
	require.NoError(t, th.Subscribe(ctx))

	subscribed, err := th.IsSubscribed(ctx)
	require.NoError(t, err)
	assert.True(t, subscribed)
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, 1, st.Writes())

	require.NoError(t, th.Unsubscribe(ctx))
	subscribed, err = th.IsSubscribed(ctx)
	require.NoError(t, err)
	assert.False(t, subscribed)
}

func TestThread_OptionalCapabilities(t *testing.T) {
	ctx := context.Background()

	bare := chattest.New("slack")
	b, _ := newTestBot(t, bare)
	th, err := b.Thread(threadID)
	require.NoError(t, err)

	assert.ErrorIs(t, th.AddReaction(ctx, "m1", chat.EmojiHeart), chat.ErrNotSupported)
	for _, err := range th.FetchMessages(ctx, 20) {
		assert.ErrorIs(t, err, chat.ErrNotSupported)
	}

	full := chattest.New("slack").WithReactions().WithHistory(userMessage("a"), userMessage("b"))
	b, _ = newTestBot(t, full)
	th, err = b.Thread(threadID)
	require.NoError(t, err)

	require.NoError(t, th.AddReaction(ctx, "m1", chat.EmojiHeart))
	assert.Len(t, full.Reactions(), 1)

	count := 0
	for _, err := range th.FetchMessages(ctx, 20) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count)
}

func TestThread_UnknownPlatform(t *testing.T) {
	b, _ := newTestBot(t, chattest.New("slack"))
	_, err := b.Thread("discord:123")
	assert.Error(t, err)
}

func TestPlatforms(t *testing.T) {
	b, _ := newTestBot(t, chattest.New("slack"))
	assert.Equal(t, []string{"slack"}, b.Platforms())
	_, ok := b.Adapter("slack")
	assert.True(t, ok)
}
