// ABOUTME: Recording chat.Adapter for tests across packages.
// ABOUTME: Capabilities are opt-in so tests can exercise absent-capability paths.

package chattest

import (
	"context"
	"iter"
	"net/http"
	"sync"

	"github.com/2389/morpheus-assistant/internal/chat"
)

// Post is one recorded Post call.
type Post struct {
	ThreadID string
	// Kind is "text", "card" or "stream".
	Kind string
	Text string
	Card *chat.Card
}

// ReactionCall is one recorded AddReaction call.
type ReactionCall struct {
	ThreadID  string
	MessageID string
	Emoji     string
}

// WebhookFunc adapts a function to chat.WebhookReceiver.
type WebhookFunc func(r *http.Request) (*chat.WebhookResult, error)

// ParseWebhook implements chat.WebhookReceiver.
func (f WebhookFunc) ParseWebhook(r *http.Request) (*chat.WebhookResult, error) { return f(r) }

// Adapter records every call made to it.
type Adapter struct {
	name string

	mu         sync.Mutex
	posts      []Post
	subscribes map[string]int
	typing     int
	reactions  []ReactionCall
	history    []chat.Message
	postErr    error
	caps       chat.Capabilities
}

// New creates an Adapter with no optional capabilities.
func New(name string) *Adapter {
	return &Adapter{name: name, subscribes: make(map[string]int)}
}

// WithHistory enables the history capability, serving msgs (oldest first).
func (a *Adapter) WithHistory(msgs ...chat.Message) *Adapter {
	a.history = msgs
	a.caps.History = a
	return a
}

// WithReactions enables the reactions capability.
func (a *Adapter) WithReactions() *Adapter {
	a.caps.Reactions = a
	return a
}

// WithWebhook enables the webhook capability.
func (a *Adapter) WithWebhook(f WebhookFunc) *Adapter {
	a.caps.Webhook = f
	return a
}

// WithGateway enables the gateway capability.
func (a *Adapter) WithGateway(l chat.GatewayListener) *Adapter {
	a.caps.Gateway = l
	return a
}

// FailPosts makes every Post return err.
func (a *Adapter) FailPosts(err error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.postErr = err
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Subscribe(_ context.Context, threadID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribes[threadID]++
	return nil
}

func (a *Adapter) Unsubscribe(_ context.Context, threadID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subscribes, threadID)
	return nil
}

// Post records content. Streams are drained first; a stream error is
// returned without recording anything.
func (a *Adapter) Post(_ context.Context, threadID string, content chat.Content) error {
	p := Post{ThreadID: threadID}
	switch c := content.(type) {
	case chat.Text:
		p.Kind, p.Text = "text", string(c)
	case *chat.Card:
		p.Kind, p.Text, p.Card = "card", c.Markdown(), c
	case chat.Stream:
		text, err := chat.Collect(c)
		if err != nil {
			return err
		}
		p.Kind, p.Text = "stream", text
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.postErr != nil {
		return a.postErr
	}
	a.posts = append(a.posts, p)
	return nil
}

func (a *Adapter) StartTyping(context.Context, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.typing++
	return nil
}

func (a *Adapter) Capabilities() chat.Capabilities { return a.caps }

// FetchMessages implements chat.HistoryFetcher over the configured history.
func (a *Adapter) FetchMessages(_ context.Context, _ string, limit int) iter.Seq2[chat.Message, error] {
	a.mu.Lock()
	msgs := a.history
	a.mu.Unlock()
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return func(yield func(chat.Message, error) bool) {
		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	}
}

// AddReaction implements chat.Reactor.
func (a *Adapter) AddReaction(_ context.Context, threadID, messageID, emoji string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reactions = append(a.reactions, ReactionCall{ThreadID: threadID, MessageID: messageID, Emoji: emoji})
	return nil
}

// Posts returns a copy of the recorded posts.
func (a *Adapter) Posts() []Post {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Post(nil), a.posts...)
}

// Subscribes returns how many times Subscribe was called for threadID.
func (a *Adapter) Subscribes(threadID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subscribes[threadID]
}

// Typing returns how many typing hints were requested.
func (a *Adapter) Typing() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.typing
}

// Reactions returns a copy of the recorded reactions.
func (a *Adapter) Reactions() []ReactionCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ReactionCall(nil), a.reactions...)
}
