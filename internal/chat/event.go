// ABOUTME: Closed union of inbound bot events produced by platform adapters.
// ABOUTME: Every variant embeds an Envelope carrying thread, platform and raw payload.

package chat

// Envelope holds the fields common to every inbound event.
type Envelope struct {
	Platform string
	ThreadID string
	// EventID is the platform's delivery identifier. When set, redeliveries
	// with the same ID are dropped by the dispatcher.
	EventID string
	// Raw is the native payload the event was decoded from.
	Raw any
}

func (e Envelope) envelope() Envelope { return e }

// Event is implemented only by the variants in this package. Variants are
// passed by value.
type Event interface {
	envelope() Envelope
}

// EnvelopeOf returns the common fields of an event.
func EnvelopeOf(e Event) Envelope {
	return e.envelope()
}

// MessageReceived is a message the adapter could not classify on its own.
type MessageReceived struct {
	Envelope
	Message Message
	// Mentioned is true when the message addresses the bot directly.
	Mentioned bool
}

// NewMention is a mention of the bot in a thread it is not yet following.
type NewMention struct {
	Envelope
	Message Message
}

// SubscribedMessage is a message in a thread the bot follows.
type SubscribedMessage struct {
	Envelope
	Message Message
}

// SlashCommand is a "/command text" invocation.
type SlashCommand struct {
	Envelope
	// Command includes the leading slash, e.g. "/ask".
	Command string
	Text    string
	User    Author
}

// Reaction is an emoji added to or removed from a message.
type Reaction struct {
	Envelope
	MessageID string
	// Emoji is a canonical name such as EmojiHeart, or the native name when
	// the adapter has no mapping for it.
	Emoji string
	Added bool
	User  Author
}

// Action is an interactive element (button, menu) being used.
type Action struct {
	Envelope
	ActionID  string
	Value     string
	MessageID string
	User      Author
}

// Kind returns a stable name for the event variant, used in logs and metrics.
func Kind(e Event) string {
	switch e.(type) {
	case MessageReceived:
		return "message"
	case NewMention:
		return "new_mention"
	case SubscribedMessage:
		return "subscribed_message"
	case SlashCommand:
		return "slash_command"
	case Reaction:
		return "reaction"
	case Action:
		return "action"
	default:
		return "unknown"
	}
}
