// ABOUTME: Core conversation types: authors, messages and thread identifiers.
// ABOUTME: Thread IDs are "<platform>:<opaque>" strings owned by the adapters.

package chat

import (
	"strings"
	"time"
)

// Canonical reaction names. Adapters translate to and from native emoji.
const (
	EmojiThumbsUp = "thumbs_up"
	EmojiHeart    = "heart"
	EmojiRocket   = "rocket"
)

// Author identifies who wrote a message.
type Author struct {
	ID    string
	Name  string
	IsBot bool
	// IsMe is true when the message was written by this bot.
	IsMe bool
}

// Message is a single received message. It is never mutated after the
// adapter creates it.
type Message struct {
	ID       string
	ThreadID string
	Author   Author
	Text     string
	Time     time.Time
}

// ThreadID builds a thread identifier from a platform tag and its parts.
func ThreadID(platform string, parts ...string) string {
	return platform + ":" + strings.Join(parts, ":")
}

// PlatformOf returns the platform prefix of a thread ID.
func PlatformOf(threadID string) string {
	platform, _, _ := strings.Cut(threadID, ":")
	return platform
}

// LocalID returns the platform-specific part of a thread ID.
func LocalID(threadID string) string {
	_, rest, _ := strings.Cut(threadID, ":")
	return rest
}
