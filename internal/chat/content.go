// ABOUTME: Outbound content kinds: plain text, structured cards and token streams.
// ABOUTME: Cards render to markdown for platforms without rich layouts.

package chat

import (
	"fmt"
	"iter"
	"strings"
)

// Content is something an adapter can post. Implemented by Text, *Card and Stream.
type Content interface {
	isContent()
}

// Text is a plain (markdown) message.
type Text string

// Stream is a lazy, forward-only sequence of output fragments. A non-nil
// error ends the stream.
type Stream iter.Seq2[string, error]

// Card is a structured message with a title, body, key/value fields, link
// buttons and action buttons.
type Card struct {
	Title   string
	Text    []string
	Fields  []Field
	Footer  string
	Links   []Link
	Buttons []Button
}

// Field is a labelled value on a card.
type Field struct {
	Label string
	Value string
}

// Link is a button that opens a URL.
type Link struct {
	Label string
	URL   string
}

// Button raises an Action with ActionID when pressed. Platforms without
// interactive components omit it from the rendered card.
type Button struct {
	ActionID string
	Label    string
	Value    string
}

func (Text) isContent()   {}
func (*Card) isContent()  {}
func (Stream) isContent() {}

// Markdown renders the card as markdown text.
func (c *Card) Markdown() string {
	var b strings.Builder
	if c.Title != "" {
		fmt.Fprintf(&b, "**%s**\n\n", c.Title)
	}
	for _, t := range c.Text {
		b.WriteString(t)
		b.WriteString("\n\n")
	}
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "• **%s**: %s\n", f.Label, f.Value)
	}
	if len(c.Fields) > 0 {
		b.WriteString("\n")
	}
	if c.Footer != "" {
		b.WriteString(c.Footer)
		b.WriteString("\n\n")
	}
	links := make([]string, 0, len(c.Links))
	for _, l := range c.Links {
		links = append(links, fmt.Sprintf("[%s](%s)", l.Label, l.URL))
	}
	b.WriteString(strings.Join(links, " · "))
	return strings.TrimSpace(b.String())
}

// StreamOf returns a stream that yields the given fragments in order.
func StreamOf(fragments ...string) Stream {
	return func(yield func(string, error) bool) {
		for _, f := range fragments {
			if !yield(f, nil) {
				return
			}
		}
	}
}
