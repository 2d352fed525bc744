// Package gateway runs bounded listening sessions for platforms that only
// deliver events over a persistent connection (Discord, Matrix).
//
// # Lifecycle
//
// A session moves through these states:
//
//	Idle → Connecting → Listening → (Draining | Dropped) → Closed
//
// Listening ends in Draining when the requested duration elapses and in
// Dropped when the transport fails. Drops are logged and not retried in
// the same session. Closing the connection is bounded by the grace period,
// so a session never outlives duration plus grace.
//
// # Continuity
//
// The host running the bot caps how long one invocation may take, so the
// maximum duration plus grace must be strictly less than the execution
// ceiling. An external trigger (cron, or `morpheus-assistant trigger`)
// starts the next session, which makes the bot appear continuously
// connected. Events arriving between sessions are missed.
//
// Sessions run on a background.Host, and every received event is
// dispatched as its own background task.
package gateway
