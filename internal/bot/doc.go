// Package bot routes inbound chat events to handlers.
//
// # Dispatch
//
// Bot.Dispatch is the single entry point for events coming from webhooks
// and gateway connections. For each event it:
//
//  1. drops events for platforms without an adapter
//  2. drops redeliveries of an already handled platform event ID
//  3. classifies plain messages as SubscribedMessage (followed thread) or
//     NewMention (bot mentioned), dropping everything else
//  4. drops messages written by the bot itself and reactions that were
//     removed or added by bots
//  5. runs at most one handler
//
// Handler errors and panics never escape Dispatch. Each failure is logged
// once and answered with chat.Apology in the originating thread.
//
// # Handlers
//
// Handlers are registered before the bot starts receiving events:
//
//	b.OnNewMention(func(ctx context.Context, t *bot.Thread, msg chat.Message) error { ... })
//	b.OnSlashCommand("/ask", askHandler)
//	b.OnReaction([]string{chat.EmojiRocket}, reactionHandler)
//	b.OnAction("ask_question", actionHandler)
//
// Slash commands without a registered handler get an "Unknown command"
// reply.
//
// # Threads
//
// Handlers receive a *Thread, which combines the thread's adapter and the
// subscription store. Optional adapter capabilities (history, reactions)
// report chat.ErrNotSupported when absent.
package bot
