// ABOUTME: Linear adapter: issue comment threads, replies and reactions via the GraphQL API.
// ABOUTME: Thread IDs are "linear:<issue id>:<root comment id>".

package linear

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	graphql "github.com/hasura/go-graphql-client"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/2389/morpheus-assistant/internal/chat"
	"github.com/2389/morpheus-assistant/internal/config"
)

// Platform is the Linear platform tag.
const Platform = "linear"

const (
	defaultAPIURL   = "https://api.linear.app/graphql"
	defaultTokenURL = "https://api.linear.app/oauth/token"
	httpTimeout     = 30 * time.Second
	commentsPerPage = 100
	// maxCommentPages bounds history reads on very long issues.
	maxCommentPages = 5
)

// viewer is the Linear user the credentials act as.
type viewer struct {
	ID          string
	Name        string
	DisplayName string
}

// Adapter implements chat.Adapter for Linear.
type Adapter struct {
	client        *graphql.Client
	webhookSecret []byte
	logger        *slog.Logger
	now           func() time.Time

	mu sync.Mutex
	me *viewer
}

// New creates a Linear adapter. A personal API key is sent as-is; OAuth
// client credentials are exchanged for app tokens as needed.
func New(cfg config.LinearConfig, logger *slog.Logger) (*Adapter, error) {
	if cfg.WebhookSecret == "" {
		return nil, errors.New("linear: webhook_secret is required")
	}
	apiURL := cmp.Or(cfg.APIURL, defaultAPIURL)

	var client *graphql.Client
	if cfg.APIKey != "" {
		key := cfg.APIKey
		client = graphql.NewClient(apiURL, &http.Client{Timeout: httpTimeout}).
			WithRequestModifier(func(r *http.Request) {
				r.Header.Set("Authorization", key)
			})
	} else {
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cmp.Or(cfg.TokenURL, defaultTokenURL),
			Scopes:       []string{"read,write"},
		}
		hc := cc.Client(context.Background())
		hc.Timeout = httpTimeout
		client = graphql.NewClient(apiURL, hc)
	}

	return &Adapter{
		client:        client,
		webhookSecret: []byte(cfg.WebhookSecret),
		logger:        logger.With("platform", Platform),
		now:           time.Now,
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

// Subscribe is a no-op: the workspace webhook delivers every comment.
func (a *Adapter) Subscribe(context.Context, string) error { return nil }

func (a *Adapter) Unsubscribe(context.Context, string) error { return nil }

// StartTyping is a no-op: Linear has no typing indicator.
func (a *Adapter) StartTyping(context.Context, string) error { return nil }

// identity returns the user the credentials act as, resolving it on first
// use. ok is false while the lookup keeps failing; the next call retries.
func (a *Adapter) identity(ctx context.Context) (viewer, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.me != nil {
		return *a.me, true
	}

	var q struct {
		Viewer viewer
	}
	if err := a.client.Query(ctx, &q, nil); err != nil {
		a.logger.Warn("resolving viewer", "error", err)
		return viewer{}, false
	}
	a.me = &q.Viewer
	return q.Viewer, true
}

// CommentCreateInput is the GraphQL input type for commentCreate.
type CommentCreateInput struct {
	IssueID  string  `json:"issueId"`
	Body     string  `json:"body"`
	ParentID *string `json:"parentId,omitempty"`
}

// ReactionCreateInput is the GraphQL input type for reactionCreate.
type ReactionCreateInput struct {
	CommentID string `json:"commentId"`
	Emoji     string `json:"emoji"`
}

// Post replies in the comment thread. Linear comments are not edited as
// text streams in, so a Stream is collected and posted once.
func (a *Adapter) Post(ctx context.Context, threadID string, content chat.Content) error {
	issueID, rootID, err := decodeThreadID(threadID)
	if err != nil {
		return err
	}

	switch c := content.(type) {
	case chat.Text:
		return a.comment(ctx, issueID, rootID, string(c))
	case *chat.Card:
		return a.comment(ctx, issueID, rootID, c.Markdown())
	case chat.Stream:
		text, streamErr := chat.Collect(c)
		if strings.TrimSpace(text) != "" {
			if err := a.comment(ctx, issueID, rootID, text); err != nil {
				return err
			}
		}
		return streamErr
	default:
		return fmt.Errorf("linear: unsupported content %T", content)
	}
}

func (a *Adapter) comment(ctx context.Context, issueID, rootID, body string) error {
	input := CommentCreateInput{IssueID: issueID, Body: body}
	if rootID != "" {
		input.ParentID = &rootID
	}

	var m struct {
		CommentCreate struct {
			Success bool
		} `graphql:"commentCreate(input: $input)"`
	}
	if err := a.client.Mutate(ctx, &m, map[string]any{"input": input}); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "post", Err: err}
	}
	if !m.CommentCreate.Success {
		return &chat.DeliveryError{Platform: Platform, Op: "post", Err: errors.New("commentCreate was not successful")}
	}
	return nil
}

type commentNode struct {
	ID        string
	Body      string
	CreatedAt string
	Parent    *struct {
		ID string
	}
	User *struct {
		ID          string
		Name        string
		DisplayName string
	}
	BotActor *struct {
		ID   string
		Name string
	}
}

// FetchMessages returns up to limit of the most recent messages in the
// comment thread, oldest first.
func (a *Adapter) FetchMessages(ctx context.Context, threadID string, limit int) iter.Seq2[chat.Message, error] {
	return func(yield func(chat.Message, error) bool) {
		issueID, rootID, err := decodeThreadID(threadID)
		if err != nil {
			yield(chat.Message{}, err)
			return
		}

		var nodes []commentNode
		var after *graphql.String
		for range maxCommentPages {
			var q struct {
				Issue struct {
					Comments struct {
						Nodes    []commentNode
						PageInfo struct {
							HasNextPage bool
							EndCursor   string
						}
					} `graphql:"comments(first: $first, after: $after)"`
				} `graphql:"issue(id: $id)"`
			}
			vars := map[string]any{
				"id":    graphql.String(issueID),
				"first": graphql.Int(commentsPerPage),
				"after": after,
			}
			if err := a.client.Query(ctx, &q, vars); err != nil {
				yield(chat.Message{}, fmt.Errorf("linear: fetching comments: %w", err))
				return
			}
			nodes = append(nodes, q.Issue.Comments.Nodes...)
			page := q.Issue.Comments.PageInfo
			if !page.HasNextPage || page.EndCursor == "" {
				break
			}
			cursor := graphql.String(page.EndCursor)
			after = &cursor
		}

		me, _ := a.identity(ctx)
		var msgs []chat.Message
		for _, n := range nodes {
			if rootID != "" && n.ID != rootID && (n.Parent == nil || n.Parent.ID != rootID) {
				continue
			}
			msgs = append(msgs, a.message(threadID, n, me))
		}
		slices.SortStableFunc(msgs, func(x, y chat.Message) int { return x.Time.Compare(y.Time) })
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

func (a *Adapter) message(threadID string, n commentNode, me viewer) chat.Message {
	var author chat.Author
	switch {
	case n.User != nil:
		author = chat.Author{ID: n.User.ID, Name: cmp.Or(n.User.DisplayName, n.User.Name)}
	case n.BotActor != nil:
		author = chat.Author{ID: n.BotActor.ID, Name: n.BotActor.Name, IsBot: true}
	}
	author.IsMe = me.ID != "" && author.ID == me.ID
	author.IsBot = author.IsBot || author.IsMe

	created, _ := time.Parse(time.RFC3339, n.CreatedAt)
	return chat.Message{
		ID:       n.ID,
		ThreadID: threadID,
		Author:   author,
		Text:     n.Body,
		Time:     created,
	}
}

// AddReaction reacts to a comment.
func (a *Adapter) AddReaction(ctx context.Context, _, messageID, emoji string) error {
	var m struct {
		ReactionCreate struct {
			Success bool
		} `graphql:"reactionCreate(input: $input)"`
	}
	input := ReactionCreateInput{CommentID: messageID, Emoji: toLinearEmoji(emoji)}
	if err := a.client.Mutate(ctx, &m, map[string]any{"input": input}); err != nil {
		return &chat.DeliveryError{Platform: Platform, Op: "react", Err: err}
	}
	return nil
}

func toLinearEmoji(emoji string) string {
	switch emoji {
	case chat.EmojiThumbsUp:
		return "+1"
	default:
		return emoji
	}
}

func threadIDFor(issueID, rootID string) string {
	return chat.ThreadID(Platform, issueID, rootID)
}

func decodeThreadID(threadID string) (issueID, rootID string, err error) {
	if chat.PlatformOf(threadID) != Platform {
		return "", "", fmt.Errorf("linear: not a linear thread: %q", threadID)
	}
	issueID, rootID, _ = strings.Cut(chat.LocalID(threadID), ":")
	if issueID == "" {
		return "", "", errors.New("linear: thread id has no issue")
	}
	return issueID, rootID, nil
}
