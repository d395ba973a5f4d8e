package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/parser"
	"github.com/lightrelay/notification-relay/internal/service/blogger"
)

// BlogAdapter handles feed-push callbacks for one blog.
type BlogAdapter struct {
	lookup         PostLookup
	blogID         string
	avatarTemplate string
	clock          clock
}

// NewBlogAdapter creates a BlogAdapter. avatarTemplate is a format string receiving
// the author id; it may be empty.
func NewBlogAdapter(lookup PostLookup, blogID, avatarTemplate string) *BlogAdapter {
	return &BlogAdapter{lookup: lookup, blogID: blogID, avatarTemplate: avatarTemplate}
}

// Kind implements Adapter.
func (a *BlogAdapter) Kind() models.SourceKind { return models.SourceBlogPost }

// BlogID returns the blog the adapter serves.
func (a *BlogAdapter) BlogID() string { return a.blogID }

// Parse implements Adapter. The post body is fetched only when the callback omits it.
func (a *BlogAdapter) Parse(ctx context.Context, body []byte) (*models.NotificationEvent, error) {
	item, err := parser.ParseFeedNotification(body)
	if err != nil {
		return nil, models.NewParseError(models.SourceBlogPost, err)
	}

	var content string
	if item.Content != nil {
		content = *item.Content
	} else {
		post, err := a.lookup.GetPost(ctx, item.PostID())
		if err != nil {
			return nil, err
		}
		content = post.Content
	}

	updated := item.UpdatedTime()
	if updated.IsZero() {
		updated = a.clock.now()
	}

	return &models.NotificationEvent{
		SourceKind:     models.SourceBlogPost,
		Kind:           models.KindNewItem,
		ChannelID:      a.blogID,
		ItemID:         item.PostID(),
		Title:          item.Title,
		Description:    content,
		URL:            item.PermalinkURL,
		AuthorName:     item.Actor.DisplayName,
		AuthorImageURL: a.avatarURL(item.Actor.ID),
		Categories:     item.Categories,
		RawBody:        string(body),
		OccurredAt:     a.clock.now(),
		UpdatedAt:      updated,
	}, nil
}

// EventFromPost builds the canonical event of a post read from the provider API.
func (a *BlogAdapter) EventFromPost(post *blogger.Post) *models.NotificationEvent {
	occurred := post.Published
	if occurred.IsZero() {
		occurred = a.clock.now()
	}
	return &models.NotificationEvent{
		SourceKind:     models.SourceBlogPost,
		Kind:           models.KindEdit,
		ChannelID:      a.blogID,
		ItemID:         post.ID,
		Title:          post.Title,
		Description:    post.Content,
		URL:            post.URL,
		AuthorName:     post.AuthorName,
		AuthorImageURL: a.avatarURL(post.AuthorID),
		Categories:     post.Labels,
		OccurredAt:     occurred.UTC(),
		UpdatedAt:      post.Updated.UTC().Truncate(time.Second),
	}
}

func (a *BlogAdapter) avatarURL(authorID string) string {
	if a.avatarTemplate == "" || authorID == "" {
		return ""
	}
	if strings.Contains(a.avatarTemplate, "%s") {
		return fmt.Sprintf(a.avatarTemplate, authorID)
	}
	return a.avatarTemplate
}
