// ABOUTME: Completion request types and the Provider interface.
// ABOUTME: A Provider turns a role-tagged transcript into a lazy token stream.

package completion

import (
	"context"

	"github.com/2389/morpheus-assistant/internal/chat"
)

// Role tags a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role Role
	Text string
}

// Request is a single completion call. It is built once and consumed once.
type Request struct {
	System   string
	Messages []Turn
	Model    string
}

// Provider generates completions.
type Provider interface {
	// Stream starts the request lazily when the stream is ranged over.
	// Provider throttling ends the stream with an error matching
	// chat.ErrRateLimited.
	Stream(ctx context.Context, req Request) chat.Stream
}
