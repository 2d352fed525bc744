// Package assistant implements the Morpheus Assistant conversation
// behavior on top of package bot.
//
// Register installs these handlers:
//
//   - a mention subscribes the thread and streams a reply to the mention
//   - a message in a subscribed thread streams a reply with recent history
//   - /ask streams a one-off answer without subscribing
//   - /morpheus [help|models|about] posts an informational card
//   - thumbs_up, heart and rocket reactions are acknowledged with a heart
//   - the "Ask a question" button prompts the user to ask in the thread
package assistant
