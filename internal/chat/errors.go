// ABOUTME: Error taxonomy shared by adapters, the dispatcher and the completion pipeline.
// ABOUTME: Sentinels are matched with errors.Is, typed errors with errors.As.

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means an inbound request failed signature or secret
	// verification. It is rejected before dispatch.
	ErrAuthentication = errors.New("authentication failed")

	// ErrUnsupportedEvent means a verified payload could not be mapped to an Event.
	ErrUnsupportedEvent = errors.New("unsupported event")

	// ErrNotSupported means the adapter lacks an optional capability.
	ErrNotSupported = errors.New("not supported")

	// ErrRateLimited means the completion provider is throttling requests.
	ErrRateLimited = errors.New("rate limited")
)

// Apology is the generic user-visible reply when handling a request fails.
const Apology = "❌ Sorry, I encountered an error processing your request. Please try again."

// DeliveryError is returned when an adapter fails to post to its platform.
type DeliveryError struct {
	Platform string
	Op       string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// HandlerError wraps a fault raised while handling an event.
type HandlerError struct {
	Kind     string
	Platform string
	ThreadID string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handling %s on %s: %v", e.Kind, e.Platform, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
