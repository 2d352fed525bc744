// Package slack adapts the Slack Events API, slash commands and block
// actions to the chat event model, and delivers replies through the Slack
// Web API.
//
// Every inbound request is checked against the app signing secret before
// it is parsed. Message events are keyed on channel and message timestamp,
// so the app_mention and message events Slack sends for one message are
// handled once. Streams are posted as a single message that is edited in
// place at most once per stream interval.
package slack
