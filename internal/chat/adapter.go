// ABOUTME: Adapter contract every platform integration satisfies.
// ABOUTME: Optional capabilities are nil-able fields on Capabilities.

package chat

import (
	"context"
	"iter"
	"net/http"
)

// Adapter is the contract between the bot and one chat platform.
type Adapter interface {
	// Name returns the platform tag used in thread IDs and URLs.
	Name() string

	// Subscribe and Unsubscribe run platform-side hooks when the bot starts
	// or stops following a thread. Both are idempotent.
	Subscribe(ctx context.Context, threadID string) error
	Unsubscribe(ctx context.Context, threadID string) error

	// Post delivers content to a thread and returns once the platform has
	// acknowledged it. Platform failures are returned as *DeliveryError;
	// an error ending a Stream is returned as-is. Post never retries.
	Post(ctx context.Context, threadID string, content Content) error

	// StartTyping shows a typing hint. Callers ignore its error.
	StartTyping(ctx context.Context, threadID string) error

	// Capabilities reports the optional features this adapter supports.
	Capabilities() Capabilities
}

// Capabilities lists optional adapter features. A nil field means the
// capability is absent.
type Capabilities struct {
	Webhook   WebhookReceiver
	History   HistoryFetcher
	Reactions Reactor
	Gateway   GatewayListener
}

// WebhookResult is the outcome of parsing one webhook request.
type WebhookResult struct {
	Events []Event
	// Body, if set, is written as the HTTP response (URL verification
	// challenges, interaction acknowledgements).
	Body        []byte
	ContentType string
}

// WebhookReceiver verifies and decodes inbound webhook requests.
type WebhookReceiver interface {
	// ParseWebhook returns ErrAuthentication when the request cannot be
	// verified and ErrUnsupportedEvent when it cannot be classified.
	ParseWebhook(r *http.Request) (*WebhookResult, error)
}

// HistoryFetcher reads recent thread history.
type HistoryFetcher interface {
	// FetchMessages yields at most limit of the most recent messages in the
	// thread, oldest first. The sequence can be consumed only once.
	FetchMessages(ctx context.Context, threadID string, limit int) iter.Seq2[Message, error]
}

// Reactor adds emoji reactions to messages.
type Reactor interface {
	AddReaction(ctx context.Context, threadID, messageID, emoji string) error
}

// GatewayListener opens persistent inbound connections.
type GatewayListener interface {
	Connect(ctx context.Context) (GatewayConn, error)
}

// GatewayConn is an open inbound connection.
type GatewayConn interface {
	// Serve delivers events to emit until ctx is done, returning nil (or
	// ctx.Err()), or until the transport fails, returning that error.
	Serve(ctx context.Context, emit func(Event)) error
	Close() error
}
