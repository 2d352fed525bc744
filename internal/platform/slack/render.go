// ABOUTME: Converts markdown and cards into Slack mrkdwn and Block Kit blocks.
// ABOUTME: Also maps canonical reaction names to Slack emoji names and back.

package slack

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/slack-go/slack"

	"github.com/2389/morpheus-assistant/internal/chat"
)

var (
	boldPattern = regexp.MustCompile(`\*\*(.+?)\*\*`)
	linkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
)

// toMrkdwn rewrites the markdown constructs the bot emits into Slack mrkdwn.
func toMrkdwn(md string) string {
	out := linkPattern.ReplaceAllString(md, "<$2|$1>")
	return boldPattern.ReplaceAllString(out, "*$1*")
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, toMrkdwn(text), false, false)
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, true, false)
}

// cardBlocks renders a card as Block Kit blocks.
func cardBlocks(c *chat.Card) []slack.Block {
	var blocks []slack.Block
	if c.Title != "" {
		blocks = append(blocks, slack.NewHeaderBlock(plain(c.Title)))
	}
	for _, t := range c.Text {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(t), nil, nil))
	}
	if len(c.Fields) > 0 {
		lines := make([]string, 0, len(c.Fields))
		for _, f := range c.Fields {
			lines = append(lines, fmt.Sprintf("• *%s*: %s", f.Label, f.Value))
		}
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(strings.Join(lines, "\n")), nil, nil))
	}
	if c.Footer != "" {
		blocks = append(blocks, slack.NewContextBlock("", mrkdwn(c.Footer)))
	}

	var elements []slack.BlockElement
	for _, b := range c.Buttons {
		elements = append(elements, slack.NewButtonBlockElement(b.ActionID, b.Value, plain(b.Label)))
	}
	for i, l := range c.Links {
		elements = append(elements, slack.NewButtonBlockElement(fmt.Sprintf("link_%d", i), "", plain(l.Label)).WithURL(l.URL))
	}
	if len(elements) > 0 {
		blocks = append(blocks, slack.NewActionBlock("", elements...))
	}
	return blocks
}

var slackEmoji = map[string]string{
	chat.EmojiThumbsUp: "+1",
	chat.EmojiHeart:    "heart",
	chat.EmojiRocket:   "rocket",
}

func toSlackEmoji(name string) string {
	if e, ok := slackEmoji[name]; ok {
		return e
	}
	return name
}

// fromSlackEmoji maps a Slack reaction name to its canonical name. Skin
// tone suffixes are dropped.
func fromSlackEmoji(name string) string {
	name, _, _ = strings.Cut(name, "::")
	switch name {
	case "+1", "thumbsup":
		return chat.EmojiThumbsUp
	case "heart":
		return chat.EmojiHeart
	case "rocket":
		return chat.EmojiRocket
	default:
		return name
	}
}
