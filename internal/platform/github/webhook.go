// ABOUTME: Verifies GitHub webhook deliveries and maps new issues and comments to message events.
// ABOUTME: The X-Hub-Signature-256 HMAC is checked before the payload is decoded.

package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v72/github"

	"github.com/2389/morpheus-assistant/internal/chat"
)

const maxBodyBytes = 25 << 20

// ParseWebhook implements chat.WebhookReceiver.
func (a *Adapter) ParseWebhook(r *http.Request) (*chat.WebhookResult, error) {
	signature := r.Header.Get(github.SHA256SignatureHeader)
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s", chat.ErrAuthentication, github.SHA256SignatureHeader)
	}
	payload, err := github.ValidatePayloadFromBody(r.Header.Get("Content-Type"),
		io.LimitReader(r.Body, maxBodyBytes), signature, a.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrAuthentication, err)
	}

	eventType := github.WebHookType(r)
	switch eventType {
	case "issue_comment", "issues":
	default:
		// ping and everything else is acknowledged and ignored.
		return nil, fmt.Errorf("%w: %s", chat.ErrUnsupportedEvent, eventType)
	}

	raw, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parsing %s payload: %w", eventType, err)
	}

	ctx := r.Context()
	switch ev := raw.(type) {
	case *github.IssueCommentEvent:
		return a.commentEvent(ctx, ev)
	case *github.IssuesEvent:
		return a.issueEvent(ctx, ev)
	default:
		return nil, fmt.Errorf("%w: %T", chat.ErrUnsupportedEvent, raw)
	}
}

func (a *Adapter) commentEvent(ctx context.Context, ev *github.IssueCommentEvent) (*chat.WebhookResult, error) {
	if ev.GetAction() != "created" {
		return nil, fmt.Errorf("%w: issue_comment %s", chat.ErrUnsupportedEvent, ev.GetAction())
	}
	login, ok := a.botLogin(ctx)
	if !ok {
		// Without our own login every comment, ours included, looks foreign.
		return nil, fmt.Errorf("%w: bot identity unknown", chat.ErrUnsupportedEvent)
	}

	threadID := threadIDFor(ev.GetRepo().GetFullName(), ev.GetIssue().GetNumber())
	if _, err := decodeThreadID(threadID); err != nil {
		return nil, fmt.Errorf("issue_comment without repository or issue: %w", err)
	}
	c := ev.GetComment()
	msg := a.commentMessage(ctx, threadID, c)
	return &chat.WebhookResult{Events: []chat.Event{chat.MessageReceived{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadID,
			EventID:  "comment:" + strconv.FormatInt(c.GetID(), 10),
			Raw:      ev,
		},
		Message:   msg,
		Mentioned: !msg.Author.IsMe && mentions(msg.Text, login),
	}}}, nil
}

func (a *Adapter) issueEvent(ctx context.Context, ev *github.IssuesEvent) (*chat.WebhookResult, error) {
	if ev.GetAction() != "opened" {
		return nil, fmt.Errorf("%w: issues %s", chat.ErrUnsupportedEvent, ev.GetAction())
	}
	login, ok := a.botLogin(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: bot identity unknown", chat.ErrUnsupportedEvent)
	}

	issue := ev.GetIssue()
	threadID := threadIDFor(ev.GetRepo().GetFullName(), issue.GetNumber())
	if _, err := decodeThreadID(threadID); err != nil {
		return nil, fmt.Errorf("issues event without repository or issue: %w", err)
	}
	msg := a.issueMessage(ctx, threadID, issue)
	return &chat.WebhookResult{Events: []chat.Event{chat.MessageReceived{
		Envelope: chat.Envelope{
			Platform: Platform,
			ThreadID: threadID,
			EventID:  "issue:" + strconv.FormatInt(issue.GetID(), 10),
			Raw:      ev,
		},
		Message:   msg,
		Mentioned: !msg.Author.IsMe && mentions(msg.Text, login),
	}}}, nil
}

// mentions reports whether text contains "@login" as a whole handle. App
// logins also match without their "[bot]" suffix.
func mentions(text, login string) bool {
	handles := []string{login}
	if slug, ok := strings.CutSuffix(login, "[bot]"); ok {
		handles = append(handles, slug)
	}

	lower := strings.ToLower(text)
	for _, h := range handles {
		needle := "@" + strings.ToLower(h)
		for from := 0; ; {
			i := strings.Index(lower[from:], needle)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(needle)
			if (start == 0 || !isHandleChar(lower[start-1])) && (end == len(lower) || !isHandleChar(lower[end])) {
				return true
			}
			from = end
		}
	}
	return false
}

func isHandleChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '-' || b == '_' || b == '['
}
