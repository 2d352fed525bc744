// ABOUTME: Throttled edit-in-place delivery of token streams.
// ABOUTME: Adapters supply a flush func that posts once and then edits.

package chat

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// StreamEdits drains s, calling flush with the full accumulated text at most
// once per interval, plus a final call when the stream ends with text that
// has not been flushed yet. Whitespace-only text is never flushed. An error
// yielded by the stream is returned unchanged.
func StreamEdits(ctx context.Context, s Stream, interval time.Duration, flush func(ctx context.Context, text string) error) error {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var b strings.Builder
	var flushed string
	for token, err := range s {
		if err != nil {
			return err
		}
		b.WriteString(token)
		text := b.String()
		if text == flushed || strings.TrimSpace(text) == "" || !limiter.Allow() {
			continue
		}
		if err := flush(ctx, text); err != nil {
			return err
		}
		flushed = text
	}

	text := b.String()
	if text == flushed || strings.TrimSpace(text) == "" {
		return nil
	}
	return flush(ctx, text)
}

// Collect drains s into a single string.
func Collect(s Stream) (string, error) {
	var b strings.Builder
	for token, err := range s {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(token)
	}
	return b.String(), nil
}
