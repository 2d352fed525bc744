// Package chat defines the platform-agnostic vocabulary shared by the bot,
// its handlers, and every platform adapter.
//
// # Overview
//
// Nothing above this package knows what a Slack block, a Discord interaction
// or a Matrix sync response looks like. Adapters translate native payloads
// into the types defined here and translate outbound content back.
//
// # Threads
//
// A thread (conversation) is identified by an opaque string of the form
// "<platform>:<platform-specific-id>", for example:
//
//	slack:C0123456:1715712345.000100
//	discord:112233445566778899
//	matrix:!abcdef:example.org
//
// Only the prefix before the first colon is interpreted outside the adapter;
// see [PlatformOf].
//
// # Events
//
// [Event] is a closed sum type. The variants are:
//
//   - [MessageReceived]: a plain message, not yet classified
//   - [NewMention]: the bot was mentioned in an untracked thread
//   - [SubscribedMessage]: a message in a thread the bot follows
//   - [SlashCommand]: a "/command text" invocation
//   - [Reaction]: an emoji added to or removed from a message
//   - [Action]: a button or other interactive element was used
//
// Adapters emit MessageReceived for ordinary messages because they do not
// have access to subscription state; the dispatcher resolves it into
// NewMention or SubscribedMessage.
//
// # Capabilities
//
// Every adapter implements [Adapter]. Optional behavior is exposed through
// the nil-able fields of [Capabilities]; callers check for nil instead of
// type-asserting.
//
// # Content
//
// [Adapter.Post] accepts [Text], a [*Card] or a [Stream] of tokens. Streams
// are posted once and then edited in place; [StreamEdits] implements the
// throttling shared by the adapters that support editing.
package chat
