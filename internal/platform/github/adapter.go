// ABOUTME: GitHub adapter: issue and pull request comments as threads, replies as new comments.
// ABOUTME: Thread IDs are "github:<owner>/<repo>:<issue number>".

package github

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-github/v72/github"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

// Platform is the GitHub platform tag.
const Platform = "github"

// issueMessageID identifies the issue body, which has no comment ID.
const issueMessageID = "issue"

const commentsPerPage = 100

// Adapter implements chat.Adapter for GitHub.
type Adapter struct {
	client        *github.Client
	app           *github.Client
	webhookSecret []byte
	logger        *slog.Logger

	mu    sync.Mutex
	login string
}

// New creates a GitHub adapter. A webhook secret is required: unsigned
// deliveries are never accepted.
func New(cfg config.GitHubConfig, logger *slog.Logger) (*Adapter, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("github: webhook_secret is required")
	}
	client, app, err := newClients(cfg)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	return &Adapter{
		client:        client,
		app:           app,
		webhookSecret: []byte(cfg.WebhookSecret),
		logger:        logger.With("platform", Platform),
		login:         cfg.BotLogin,
	}, nil
}

func (a *Adapter) Name() string { return Platform }

func (a *Adapter) Capabilities() chat.Capabilities {
	return chat.Capabilities{
		Webhook:   a,
		History:   a,
		Reactions: a,
	}
}

// Subscribe is a no-op: webhooks deliver every comment in repositories
// where the app is installed.
func (a *Adapter) Subscribe(context.Context, string) error { return nil }

func (a *Adapter) Unsubscribe(context.Context, string) error { return nil }

// StartTyping is a no-op: GitHub has no typing indicator.
func (a *Adapter) StartTyping(context.Context, string) error { return nil }

// botLogin returns the login replies are posted under, resolving it on
// first use. Apps comment as "<slug>[bot]". ok is false while the lookup
// keeps failing; the next call retries.
func (a *Adapter) botLogin(ctx context.Context) (login string, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.login != "" {
		return a.login, true
	}

	if a.app != nil {
		app, _, err := a.app.Apps.Get(ctx, "")
		if err != nil {
			a.logger.Warn("resolving app identity", "error", err)
			return "", false
		}
		a.login = app.GetSlug() + "[bot]"
	} else {
		u, _, err := a.client.Users.Get(ctx, "")
		if err != nil {
			a.logger.Warn("resolving token identity", "error", err)
			return "", false
		}
		a.login = u.GetLogin()
	}
	return a.login, true
}

func (a *Adapter) author(ctx context.Context, u *github.User) chat.Author {
	login := u.GetLogin()
	me, _ := a.botLogin(ctx)
	isMe := me != "" && strings.EqualFold(login, me)
	return chat.Author{
		ID:    strconv.FormatInt(u.GetID(), 10),
		Name:  login,
		IsBot: u.GetType() == "Bot" || isMe,
		IsMe:  isMe,
	}
}

// Post adds a comment to the issue. GitHub cannot edit comments as text
// streams in, so a Stream is collected and posted once.
func (a *Adapter) Post(ctx context.Context, threadID string, content chat.Content) error {
	ref, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}

	switch c := content.(type) {
	case chat.Text:
		return a.comment(ctx, ref, string(c))
	case *chat.Card:
		return a.comment(ctx, ref, c.Markdown())
	case chat.Stream:
		text, streamErr := chat.Collect(c)
		if strings.TrimSpace(text) != "" {
			if err := a.comment(ctx, ref, text); err != nil {
				return err
			}
		}
		return streamErr
	default:
		return fmt.Errorf("github: unsupported content %T", content)
	}
}

func (a *Adapter) comment(ctx context.Context, ref issueRef, body string) error {
	_, _, err := a.client.Issues.CreateComment(ctx, ref.owner, ref.repo, ref.number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "post", Err: err}
	}
	return nil
}

// FetchMessages returns up to limit of the most recent messages on the
// issue, oldest first. The issue body counts as the first message.
func (a *Adapter) FetchMessages(ctx context.Context, threadID string, limit int) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		ref, err := decodeThreadID(threadID)
		if err != nil {
			yield(chat.Message{}, err)
			return
		}

		issue, _, err := a.client.Issues.Get(ctx, ref.owner, ref.repo, ref.number)
		if err != nil {
			yield(chat.Message{}, fmt.Errorf("github: fetching issue: %w", err))
			return
		}
		msgs := []chat.Message{a.issueMessage(ctx, threadID, issue)}

		opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: commentsPerPage}}
		for {
			page, resp, err := a.client.Issues.ListComments(ctx, ref.owner, ref.repo, ref.number, opts)
			if err != nil {
				yield(chat.Message{}, fmt.Errorf("github: fetching comments: %w", err))
				return
			}
			for _, c := range page {
				msgs = append(msgs, a.commentMessage(ctx, threadID, c))
			}
			if resp == nil || resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		for _, m := range msgs {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (a *Adapter) issueMessage(ctx context.Context, threadID string, issue *github.Issue) chat.Message {
	text := issue.GetTitle()
	if body := issue.GetBody(); body != "" {
		text += "\n\n" + body
	}
	return chat.Message{
		ID:       issueMessageID,
		ThreadID: threadID,
		Author:   a.author(ctx, issue.GetUser()),
		Text:     text,
		Time:     issue.GetCreatedAt().Time,
	}
}

func (a *Adapter) commentMessage(ctx context.Context, threadID string, c *github.IssueComment) chat.Message {
	return chat.Message{
		ID:       strconv.FormatInt(c.GetID(), 10),
		ThreadID: threadID,
		Author:   a.author(ctx, c.GetUser()),
		Text:     c.GetBody(),
		Time:     c.GetCreatedAt().Time,
	}
}

// AddReaction reacts to a comment, or to the issue itself for the issue
// body message.
func (a *Adapter) AddReaction(ctx context.Context, threadID, messageID, emoji string) error {
	ref, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}
	reaction, ok := toReaction(emoji)
	if !ok {
		return fmt.Errorf("github: reaction %q: %w", emoji, chat.ErrNotSupported)
	}

	if messageID == issueMessageID {
		_, _, err = a.client.Reactions.CreateIssueReaction(ctx, ref.owner, ref.repo, ref.number, reaction)
	} else {
		id, perr := strconv.ParseInt(messageID, 10, 64)
		if perr != nil {
			return fmt.Errorf("github: invalid comment id %q", messageID)
		}
		_, _, err = a.client.Reactions.CreateIssueCommentReaction(ctx, ref.owner, ref.repo, id, reaction)
	}
	if err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "react", Err: err}
	}
	return nil
}

// toReaction maps a reaction name to one of GitHub's fixed reaction contents.
func toReaction(emoji string) (string, bool) {
	switch emoji {
	case chat.EmojiThumbsUp, "+1":
		return "+1", true
	case chat.EmojiHeart, chat.EmojiRocket, "-1", "laugh", "confused", "hooray", "eyes":
		return emoji, true
	default:
		return "", false
	}
}

type issueRef struct {
	owner  string
	repo   string
	number int
}

func threadIDFor(fullName string, number int) string {
	return chat.ThreadID(Platform, fullName, strconv.Itoa(number))
}

func decodeThreadID(threadID string) (issueRef, error) {
	if chat.PlatformOf(threadID) != Platform {
		return issueRef{}, fmt.Errorf("github: not a github thread: %q", threadID)
	}
	fullName, num, _ := strings.Cut(chat.LocalID(threadID), ":")
	owner, repo, _ := strings.Cut(fullName, "/")
	number, err := strconv.Atoi(num)
	if owner == "" || repo == "" || err != nil || number <= 0 {
		return issueRef{}, fmt.Errorf("github: malformed thread id %q", threadID)
	}
	return issueRef{owner: owner, repo: repo, number: number}, nil
}
