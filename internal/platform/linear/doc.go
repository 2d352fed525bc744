// Package linear treats each top-level Linear issue comment and its
// replies as a chat thread. Comment webhooks are verified against the
// webhook signing secret and must be recent. Replies are created through
// the GraphQL API as children of the thread's first comment.
package linear
