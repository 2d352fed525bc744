// ABOUTME: Tests for the Matrix adapter against a fake homeserver.
// ABOUTME: Covers thread relations, streaming edits, history filtering and the sync loop.

package matrix

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

const (
	botUser = "@morpheus:example.org"
	room    = "!room:example.org"
)

type sentEvent struct {
	Type string
	Body map[string]any
}

type fakeHomeserver struct {
	mu        sync.Mutex
	sent      []sentEvent
	typing    int
	history   []map[string]any
	syncs     []string
	whoamiErr bool
	syncErr   bool
	nextEvent int
}

func (f *fakeHomeserver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/account/whoami"):
		if f.whoamiErr {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"errcode":"M_UNKNOWN_TOKEN","error":"bad token"}`)
			return
		}
		_, _ = io.WriteString(w, `{"user_id":"`+botUser+`"}`)
	case strings.HasSuffix(path, "/filter"):
		_, _ = io.WriteString(w, `{"filter_id":"1"}`)
	case strings.HasSuffix(path, "/sync"):
		f.serveSync(w, r)
	case strings.Contains(path, "/send/"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		evType := strings.Split(strings.SplitN(path, "/send/", 2)[1], "/")[0]
		f.mu.Lock()
		f.sent = append(f.sent, sentEvent{Type: evType, Body: body})
		f.nextEvent++
		n := f.nextEvent
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"event_id": "$sent" + string(rune('0'+n))})
	case strings.Contains(path, "/typing/"):
		f.mu.Lock()
		f.typing++
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{}`)
	case strings.HasSuffix(path, "/messages"):
		_ = json.NewEncoder(w).Encode(map[string]any{"chunk": f.history, "start": "t1", "end": "t0"})
	default:
		_, _ = io.WriteString(w, `{}`)
	}
}

func (f *fakeHomeserver) serveSync(w http.ResponseWriter, r *http.Request) {
	since := r.URL.Query().Get("since")
	f.mu.Lock()
	f.syncs = append(f.syncs, since)
	fail := f.syncErr
	f.mu.Unlock()

	if fail {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errcode":"M_FORBIDDEN","error":"nope"}`)
		return
	}

	switch since {
	case "":
		_ = json.NewEncoder(w).Encode(syncResponse("s1", messageEvent("$old", "@alice:example.org", "old news", nil)))
	case "s1":
		_ = json.NewEncoder(w).Encode(syncResponse("s2",
			messageEvent("$new", "@alice:example.org", "hey "+botUser, nil),
			map[string]any{
				"type": "m.reaction", "event_id": "$react", "sender": "@alice:example.org", "origin_server_ts": 1715712345000,
				"content": map[string]any{"m.relates_to": map[string]any{"rel_type": "m.annotation", "event_id": "$new", "key": "🚀"}},
			},
		))
	default:
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_ = json.NewEncoder(w).Encode(syncResponse(since))
	}
}

func syncResponse(next string, events ...map[string]any) map[string]any {
	if events == nil {
		events = []map[string]any{}
	}
	return map[string]any{
		"next_batch": next,
		"rooms": map[string]any{
			"join": map[string]any{
				room: map[string]any{"timeline": map[string]any{"events": events}},
			},
		},
	}
}

func messageEvent(eventID, sender, body string, relatesTo map[string]any) map[string]any {
	content := map[string]any{"msgtype": "m.text", "body": body}
	if relatesTo != nil {
		content["m.relates_to"] = relatesTo
	}
	return map[string]any{
		"type": "m.room.message", "event_id": eventID, "sender": sender,
		"origin_server_ts": 1715712345000, "room_id": room, "content": content,
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeHomeserver) {
	t.Helper()
	hs := &fakeHomeserver{}
	srv := httptest.NewServer(hs)
	t.Cleanup(srv.Close)

	a, err := New(config.MatrixConfig{
		Homeserver:  srv.URL,
		UserID:      botUser,
		AccessToken: "token",
	}, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return a, hs
}

func (f *fakeHomeserver) Sent() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

func TestDecodeThreadID(t *testing.T) {
	r, root, err := decodeThreadID("matrix:!room:example.org:$abc")
	require.NoError(t, err)
	assert.Equal(t, room, string(r))
	assert.Equal(t, "$abc", string(root))

	r, root, err = decodeThreadID("matrix:!room:example.org")
	require.NoError(t, err)
	assert.Equal(t, room, string(r))
	assert.Empty(t, root)

	_, _, err = decodeThreadID("slack:C1:1.2")
	assert.Error(t, err)
	_, _, err = decodeThreadID("matrix:#alias:example.org")
	assert.Error(t, err)

	assert.Equal(t, "matrix:!room:example.org:$abc", threadIDFor(room, "$abc"))
}

func TestPost_TextInThreadWithHTML(t *testing.T) {
	a, hs := newTestAdapter(t)

	require.NoError(t, a.Post(context.Background(), threadIDFor(room, "$root"), chat.Text("use **bold**")))

	sent := hs.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "m.room.message", sent[0].Type)
	assert.Equal(t, "use **bold**", sent[0].Body["body"])
	assert.Equal(t, "org.matrix.custom.html", sent[0].Body["format"])
	assert.Equal(t, "<p>use <strong>bold</strong></p>", sent[0].Body["formatted_body"])

	rel := sent[0].Body["m.relates_to"].(map[string]any)
	assert.Equal(t, "m.thread", rel["rel_type"])
	assert.Equal(t, "$root", rel["event_id"])
}

func TestPost_StreamSendsThenEdits(t *testing.T) {
	a, hs := newTestAdapter(t)

	require.NoError(t, a.Post(context.Background(), threadIDFor(room, "$root"), chat.StreamOf("Hel", "lo")))

	sent := hs.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "Hel", sent[0].Body["body"])

	edit := sent[1].Body
	assert.Equal(t, "* Hello", edit["body"])
	assert.Equal(t, "Hello", edit["m.new_content"].(map[string]any)["body"])
	rel := edit["m.relates_to"].(map[string]any)
	assert.Equal(t, "m.replace", rel["rel_type"])
	assert.Equal(t, "$sent1", rel["event_id"])
}

func TestPost_CardAsMarkdown(t *testing.T) {
	a, hs := newTestAdapter(t)

	require.NoError(t, a.Post(context.Background(), threadIDFor(room, ""), &chat.Card{Title: "About", Text: []string{"Hi"}}))

	sent := hs.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body["body"], "**About**")
	assert.Nil(t, sent[0].Body["m.relates_to"])
}

func TestFetchMessages_KeepsThreadOldestFirst(t *testing.T) {
	a, hs := newTestAdapter(t)
	thread := map[string]any{"rel_type": "m.thread", "event_id": "$root"}
	hs.history = []map[string]any{
		messageEvent("$3", botUser, "answer", thread),
		messageEvent("$x", "@bob:example.org", "unrelated", nil),
		messageEvent("$2", "@alice:example.org", "follow up", thread),
		messageEvent("$root", "@alice:example.org", "question", nil),
	}

	var got []chat.Message
	for m, err := range a.FetchMessages(context.Background(), threadIDFor(room, "$root"), 10) {
		require.NoError(t, err)
		got = append(got, m)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "question", got[0].Text)
	assert.Equal(t, "follow up", got[1].Text)
	assert.Equal(t, "answer", got[2].Text)
	assert.True(t, got[2].Author.IsMe)
	assert.Equal(t, "alice", got[0].Author.Name)
}

func TestAddReactionAndTyping(t *testing.T) {
	a, hs := newTestAdapter(t)

	require.NoError(t, a.AddReaction(context.Background(), threadIDFor(room, "$root"), "$m1", chat.EmojiHeart))
	require.NoError(t, a.StartTyping(context.Background(), threadIDFor(room, "$root")))

	sent := hs.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "m.reaction", sent[0].Type)
	rel := sent[0].Body["m.relates_to"].(map[string]any)
	assert.Equal(t, "$m1", rel["event_id"])
	assert.Equal(t, "❤\ufe0f", rel["key"])
	assert.Equal(t, 1, hs.typing)
}

func TestEmojiMapping(t *testing.T) {
	assert.Equal(t, chat.EmojiHeart, fromMatrixEmoji("❤"))
	assert.Equal(t, chat.EmojiHeart, fromMatrixEmoji("❤\ufe0f"))
	assert.Equal(t, chat.EmojiThumbsUp, fromMatrixEmoji("👍"))
	assert.Equal(t, "🎉", fromMatrixEmoji("🎉"))
}

func TestSync_SkipsInitialBatchAndEmitsNewEvents(t *testing.T) {
	a, _ := newTestAdapter(t)

	conn, err := a.Capabilities().Gateway.Connect(context.Background())
	require.NoError(t, err)

	events := make(chan chat.Event, 8)
	done := make(chan error, 1)
	go func() { done <- conn.Serve(context.Background(), func(ev chat.Event) { events <- ev }) }()

	var got []chat.Event
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for events, got %d", len(got))
		}
	}

	msg, ok := got[0].(chat.MessageReceived)
	require.True(t, ok)
	assert.Equal(t, "$new", msg.EventID)
	assert.Equal(t, threadIDFor(room, "$new"), msg.ThreadID)
	assert.True(t, msg.Mentioned)

	reaction, ok := got[1].(chat.Reaction)
	require.True(t, ok)
	assert.Equal(t, chat.EmojiRocket, reaction.Emoji)
	assert.Equal(t, "$new", reaction.MessageID)

	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestSync_FailureEndsServe(t *testing.T) {
	a, hs := newTestAdapter(t)
	hs.syncErr = true

	conn, err := a.Capabilities().Gateway.Connect(context.Background())
	require.NoError(t, err)

	err = conn.Serve(context.Background(), func(chat.Event) {})
	assert.Error(t, err)
}

func TestConnect_BadToken(t *testing.T) {
	a, hs := newTestAdapter(t)
	hs.whoamiErr = true

	_, err := a.Capabilities().Gateway.Connect(context.Background())
	assert.Error(t, err)
}

func TestCapabilities_NoWebhook(t *testing.T) {
	a, _ := newTestAdapter(t)
	caps := a.Capabilities()
	assert.Nil(t, caps.Webhook)
	assert.NotNil(t, caps.History)
	assert.NotNil(t, caps.Reactions)
}
