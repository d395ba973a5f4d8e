// Package blogger fetches posts through the Blogger API v3.
package blogger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
	"google.golang.org/api/blogger/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// Post is the subset of a blog post the relay renders.
type Post struct {
	ID         string
	Title      string
	URL        string
	Content    string
	Labels     []string
	AuthorID   string
	AuthorName string
	Published  time.Time
	Updated    time.Time
}

// Client reads posts of one blog.
type Client struct {
	service  *blogger.Service
	blogID   string
	attempts uint
	delay    time.Duration
}

// NewClient creates a Blogger client for blogID authenticated with an API key.
func NewClient(ctx context.Context, apiKey, blogID string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("blogger API key is required")
	}
	if blogID == "" {
		return nil, errors.New("blog id is required")
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := blogger.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Blogger service: %w", err)
	}
	return &Client{service: service, blogID: blogID, attempts: 3, delay: time.Second}, nil
}

// BlogID returns the blog this client reads.
func (c *Client) BlogID() string {
	return c.blogID
}

// GetPost fetches a post by id. It returns models.ErrLookupMiss when the post no longer exists.
func (c *Client) GetPost(ctx context.Context, postID string) (*Post, error) {
	var p *blogger.Post
	err := retry.Do(
		func() error {
			var err error
			p, err = c.service.Posts.Get(c.blogID, postID).
				Fields("id", "title", "url", "content", "labels", "author", "published", "updated").
				Context(ctx).Do()
			if err != nil {
				var apiErr *googleapi.Error
				if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
					return retry.Unrecoverable(fmt.Errorf("post %s: %w", postID, models.ErrLookupMiss))
				}
				if errors.As(err, &apiErr) && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
			}
			return err
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.L().Debug("Retrying Blogger API call", zap.String("postId", postID), zap.Uint("attempt", n), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch post: %w", err)
	}

	post := &Post{
		ID:      p.Id,
		Title:   p.Title,
		URL:     p.Url,
		Content: p.Content,
		Labels:  p.Labels,
	}
	if p.Author != nil {
		post.AuthorID = p.Author.Id
		post.AuthorName = p.Author.DisplayName
	}
	if t, err := time.Parse(time.RFC3339, p.Published); err == nil {
		post.Published = t
	}
	if t, err := time.Parse(time.RFC3339, p.Updated); err == nil {
		post.Updated = t
	}
	return post, nil
}
