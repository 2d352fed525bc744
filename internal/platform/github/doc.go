// Package github turns GitHub issue and pull request conversations into
// chat threads. New issues and new comments arrive as webhook deliveries,
// verified against the webhook secret, and replies are posted as issue
// comments.
//
// Credentials are either a token or a GitHub App. An app signs its own
// JWTs and exchanges them for installation tokens, which are refreshed
// before they expire. GitHub has no message edits suited to streaming, so
// streamed replies are collected and posted as one comment.
package github
