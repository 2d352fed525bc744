// ABOUTME: Renders cards as Discord embeds with button rows.
// ABOUTME: Also maps canonical reaction names to unicode emoji and back.

package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/2389/morpheus-assistant/internal/chat"
)

// Blurple.
const embedColor = 0x5865F2

func cardMessage(c *chat.Card) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       c.Title,
		Description: strings.Join(c.Text, "\n\n"),
		Color:       embedColor,
	}
	for _, f := range c.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Label, Value: f.Value})
	}
	if c.Footer != "" {
		// Embed footers do not render markdown.
		embed.Footer = &discordgo.MessageEmbedFooter{Text: strings.ReplaceAll(c.Footer, "**", "")}
	}

	var buttons []discordgo.MessageComponent
	for _, b := range c.Buttons {
		buttons = append(buttons, discordgo.Button{Label: b.Label, Style: discordgo.PrimaryButton, CustomID: b.ActionID})
	}
	for _, l := range c.Links {
		buttons = append(buttons, discordgo.Button{Label: l.Label, Style: discordgo.LinkButton, URL: l.URL})
	}

	msg := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}
	// Action rows hold at most five buttons.
	for start := 0; start < len(buttons); start += 5 {
		end := min(start+5, len(buttons))
		msg.Components = append(msg.Components, discordgo.ActionsRow{Components: buttons[start:end]})
	}
	return msg
}

var discordEmoji = map[string]string{
	chat.EmojiThumbsUp: "👍",
	chat.EmojiHeart:    "❤\ufe0f",
	chat.EmojiRocket:   "🚀",
}

func toDiscordEmoji(name string) string {
	if e, ok := discordEmoji[name]; ok {
		return e
	}
	return name
}

func fromDiscordEmoji(e string) string {
	switch strings.TrimSuffix(e, "\ufe0f") {
	case "👍":
		return chat.EmojiThumbsUp
	case "❤":
		return chat.EmojiHeart
	case "🚀":
		return chat.EmojiRocket
	default:
		return e
	}
}
