// Package matrix connects the bot to a Matrix homeserver with an existing
// bot account's access token.
//
// Matrix has no webhook ingress. Inbound events come from /sync long-polls
// run during bounded listening sessions, and the backlog delivered by a
// session's first sync is skipped. A top-level message is treated as the
// root of its own thread, so replies to a mention are threaded under it.
// Replies are sent with an HTML formatted body rendered from markdown.
package matrix
