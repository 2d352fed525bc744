// ABOUTME: Verifies and normalizes Discord interaction webhooks (pings, slash commands, buttons).
// ABOUTME: Responses are returned inline; slash commands are deferred and completed by Post.

package discord

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/morpheus-assistant/internal/chat"
)

const maxBodyBytes = 1 << 20

// ParseWebhook implements chat.WebhookReceiver.
func (a *Adapter) ParseWebhook(r *http.Request) (*chat.WebhookResult, error) {
	if !discordgo.VerifyInteraction(r, a.publicKey) {
		return nil, fmt.Errorf("%w: invalid interaction signature", chat.ErrAuthentication)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	var i discordgo.Interaction
	if err := json.Unmarshal(body, &i); err != nil {
		return nil, fmt.Errorf("decoding interaction: %w", err)
	}

	switch i.Type {
	case discordgo.InteractionPing:
		return respond(nil, discordgo.InteractionResponsePong)
	case discordgo.InteractionApplicationCommand:
		ev := a.slashCommand(&i)
		a.deferInteraction(&i)
		return respond([]chat.Event{ev}, discordgo.InteractionResponseDeferredChannelMessageWithSource)
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		ev := chat.Action{
			Envelope: chat.Envelope{
				Platform: Platform,
				ThreadID: threadIDFor(i.ChannelID),
				EventID:  i.ID,
			},
			ActionID: data.CustomID,
			User:     a.author(interactionUser(&i)),
		}
		if len(data.Values) > 0 {
			ev.Value = data.Values[0]
		}
		if i.Message != nil {
			ev.MessageID = i.Message.ID
		}
		return respond([]chat.Event{ev}, discordgo.InteractionResponseDeferredMessageUpdate)
	default:
		return nil, fmt.Errorf("%w: interaction type %s", chat.ErrUnsupportedEvent, i.Type)
	}
}

func respond(events []chat.Event, typ discordgo.InteractionResponseType) (*chat.WebhookResult, error) {
	body, err := json.Marshal(&discordgo.InteractionResponse{Type: typ})
	if err != nil {
		return nil, err
	}
	return &chat.WebhookResult{Events: events, Body: body, ContentType: "application/json"}, nil
}

func (a *Adapter) slashCommand(i *discordgo.Interaction) chat.SlashCommand {
	data := i.ApplicationCommandData()
	return chat.SlashCommand{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: interactionThreadID(i.ChannelID, i.ID),
			EventID:  i.ID,
		},
		Command: "/" + data.Name,
		Text:    optionText(data.Options),
		User:    a.author(interactionUser(i)),
	}
}

// optionText flattens command options into the text a user would have
// typed after the command: subcommand names followed by option values.
func optionText(opts []*discordgo.ApplicationCommandInteractionDataOption) string {
	var parts []string
	for _, o := range opts {
		switch o.Type {
		case discordgo.ApplicationCommandOptionSubCommand, discordgo.ApplicationCommandOptionSubCommandGroup:
			parts = append(parts, o.Name)
			if rest := optionText(o.Options); rest != "" {
				parts = append(parts, rest)
			}
		default:
			if o.Value != nil {
				parts = append(parts, fmt.Sprint(o.Value))
			}
		}
	}
	return strings.Join(parts, " ")
}

func interactionUser(i *discordgo.Interaction) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
