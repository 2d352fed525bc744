// Package store persists which conversation threads the bot is following.
//
// # Backends
//
// The Store interface has four implementations:
//
//   - RedisStore: a Redis set; durable and shared between instances
//   - PostgresStore: one row per thread; durable and shared
//   - SQLiteStore: one row per thread; durable, single host
//   - MemoryStore: a map; volatile and process-local
//
// Open selects one at startup from config.StateConfig. The choice is never
// re-evaluated per request.
//
// # Volatile fallback
//
// With no backend configured and no Redis URL, Open returns a MemoryStore
// and logs a warning. Subscriptions then disappear on restart and are not
// visible to other instances. Set state.require_durable to make this a
// startup error instead.
//
// # Semantics
//
// IsSubscribed and SetSubscribed are single atomic operations. Setting a
// flag to its current value is a no-op, so concurrent subscribe/unsubscribe
// calls never need a transaction.
package store
