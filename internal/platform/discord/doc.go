// Package discord connects the bot to Discord.
//
// Slash commands and button clicks arrive as signed interaction webhooks.
// Ordinary messages and reactions are only delivered over the gateway
// websocket, which is opened for bounded listening sessions.
//
// A slash command gets its own thread, "discord:<channel>:<interaction>",
// so its reply completes that interaction's deferred response even when
// other commands or mentions are answered in the same channel.
package discord
