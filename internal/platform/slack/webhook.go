// ABOUTME: Verifies and normalizes Slack Events API, slash command and interactivity requests.
// ABOUTME: Signature checks use the app signing secret before any payload is parsed.

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/2389/morpheus-assistant/internal/chat"
)

const maxBodyBytes = 1 << 20

// ParseWebhook implements chat.WebhookReceiver.
func (a *Adapter) ParseWebhook(r *http.Request) (*chat.WebhookResult, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if err := a.verify(r.Header, body); err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		r.Body = io.NopCloser(bytes.NewReader(body))
		return a.parseForm(r)
	}
	return a.parseEvent(r.Context(), body)
}

func (a *Adapter) verify(header http.Header, body []byte) error {
	sv, err := slack.NewSecretsVerifier(header, a.signingSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrAuthentication, err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrAuthentication, err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("%w: signature mismatch", chat.ErrAuthentication)
	}
	return nil
}

func (a *Adapter) parseForm(r *http.Request) (*chat.WebhookResult, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parsing form: %w", err)
	}
	if r.PostForm.Get("payload") != "" {
		return a.parseInteraction(r)
	}
	if r.PostForm.Get("command") != "" {
		return a.parseSlashCommand(r)
	}
	return nil, fmt.Errorf("%w: form without command or payload", chat.ErrUnsupportedEvent)
}

func (a *Adapter) parseSlashCommand(r *http.Request) (*chat.WebhookResult, error) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing slash command: %w", err)
	}
	ev := chat.SlashCommand{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadIDFor(cmd.ChannelID, ""),
			EventID:  cmd.TriggerID,
		},
		Command: cmd.Command,
		Text:    cmd.Text,
		User:    chat.Author{ID: cmd.UserID, Name: cmd.UserName},
	}
	return &chat.WebhookResult{Events: []chat.Event{ev}}, nil
}

func (a *Adapter) parseInteraction(r *http.Request) (*chat.WebhookResult, error) {
	cb, err := slack.InteractionCallbackParse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing interaction: %w", err)
	}
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil, fmt.Errorf("%w: interaction %q", chat.ErrUnsupportedEvent, cb.Type)
	}

	channel := firstNonEmpty(cb.Container.ChannelID, cb.Channel.ID)
	threadTS := firstNonEmpty(cb.Container.ThreadTs, cb.Container.MessageTs)
	user := chat.Author{ID: cb.User.ID, Name: cb.User.Name}

	result := &chat.WebhookResult{}
	for _, action := range cb.ActionCallback.BlockActions {
		if action.ActionID == "" || strings.HasPrefix(action.ActionID, "link_") {
			continue
		}
		result.Events = append(result.Events, chat.Action{
			Envelope: chat.Envelope{
				Platform: Platform,
				ThreadID: threadIDFor(channel, threadTS),
				EventID:  cb.TriggerID + ":" + action.ActionID,
			},
			ActionID:  action.ActionID,
			Value:     action.Value,
			MessageID: cb.Container.MessageTs,
			User:      user,
		})
	}
	return result, nil
}

func (a *Adapter) parseEvent(ctx context.Context, body []byte) (*chat.WebhookResult, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrUnsupportedEvent, err)
	}

	switch ev.Type {
	case slackevents.URLVerification:
		challenge, ok := ev.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			return nil, fmt.Errorf("%w: malformed url_verification", chat.ErrUnsupportedEvent)
		}
		return &chat.WebhookResult{Body: []byte(challenge.Challenge), ContentType: "text/plain"}, nil
	case slackevents.CallbackEvent:
	default:
		return nil, fmt.Errorf("%w: outer event %q", chat.ErrUnsupportedEvent, ev.Type)
	}

	var eventID string
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}

	var out chat.Event
	switch inner := ev.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if err := a.classifiable(ctx, inner.BotID); err != nil {
			return nil, err
		}
		msg := a.message(ctx, inner.Channel, inner.ThreadTimeStamp, inner.TimeStamp, inner.User, inner.BotID, inner.Text)
		out = chat.MessageReceived{Envelope: messageEnvelope(msg), Message: msg, Mentioned: true}
	case *slackevents.MessageEvent:
		if inner.SubType != "" && inner.SubType != "thread_broadcast" {
			return nil, fmt.Errorf("%w: message subtype %q", chat.ErrUnsupportedEvent, inner.SubType)
		}
		if err := a.classifiable(ctx, inner.BotID); err != nil {
			return nil, err
		}
		msg := a.message(ctx, inner.Channel, inner.ThreadTimeStamp, inner.TimeStamp, inner.User, inner.BotID, inner.Text)
		out = chat.MessageReceived{Envelope: messageEnvelope(msg), Message: msg, Mentioned: a.mentions(ctx, inner.Text)}
	case *slackevents.ReactionAddedEvent:
		out = a.reaction(ctx, eventID, inner.Item.Channel, inner.Item.Timestamp, inner.User, inner.Reaction, true)
	case *slackevents.ReactionRemovedEvent:
		out = a.reaction(ctx, eventID, inner.Item.Channel, inner.Item.Timestamp, inner.User, inner.Reaction, false)
	default:
		return nil, fmt.Errorf("%w: inner event %q", chat.ErrUnsupportedEvent, ev.InnerEvent.Type)
	}
	return &chat.WebhookResult{Events: []chat.Event{out}}, nil
}

func (a *Adapter) message(ctx context.Context, channel, threadTS, ts, user, botID, text string) chat.Message {
	return chat.Message{
		ID:       ts,
		ThreadID: threadIDFor(channel, firstNonEmpty(threadTS, ts)),
		Author:   a.author(ctx, user, botID),
		Text:     text,
		Time:     parseTS(ts),
	}
}

// messageEnvelope keys the event on the message itself, so the app_mention
// and message events Slack sends for one message dedupe to a single event.
func messageEnvelope(msg chat.Message) chat.Envelope {
	return chat.Envelope{
		Platform: Platform,
		ThreadID: msg.ThreadID,
		EventID:  chat.LocalID(msg.ThreadID) + "/" + msg.ID,
	}
}

func (a *Adapter) mentions(ctx context.Context, text string) bool {
	userID, _, _ := a.identity(ctx)
	return userID != "" && strings.Contains(text, "<@"+userID+">")
}

// classifiable rejects bot-authored messages while the bot's own identity
// is unknown, since one of them could be the bot's own reply.
func (a *Adapter) classifiable(ctx context.Context, botID string) error {
	if botID == "" {
		return nil
	}
	if _, _, ok := a.identity(ctx); !ok {
		return fmt.Errorf("%w: bot message %s while bot identity is unknown", chat.ErrUnsupportedEvent, botID)
	}
	return nil
}

// reaction converts a reaction event. Added reactions resolve whether the
// reactor is a bot so other bots cannot trigger acknowledgements.
func (a *Adapter) reaction(ctx context.Context, eventID, channel, ts, user, name string, added bool) chat.Reaction {
	author := a.author(ctx, user, "")
	if added && !author.IsMe && user != "" {
		author.IsBot = a.isBotUser(ctx, user)
	}
	return chat.Reaction{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadIDFor(channel, ts),
			EventID:  eventID,
		},
		MessageID: ts,
		Emoji:     fromSlackEmoji(name),
		Added:     added,
		User:      author,
	}
}
