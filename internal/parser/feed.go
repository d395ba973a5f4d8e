package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FeedNotification is the JSON body a feed-push hub delivers for a blog.
type FeedNotification struct {
	Items []FeedItem `json:"items"`
}

// FeedItem is one entry of a feed notification. Content is nil when the hub omitted it.
type FeedItem struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PermalinkURL string    `json:"permalinkUrl"`
	Content      *string   `json:"content"`
	Summary      string    `json:"summary"`
	Categories   []string  `json:"categories"`
	Actor        FeedActor `json:"actor"`
	Published    int64     `json:"published"`
	Updated      int64     `json:"updated"`
}

// FeedActor is the author of a feed item.
type FeedActor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Permalink   string `json:"permalinkUrl"`
}

// PostID extracts the provider post identifier from a feed entry id such as
// "tag:blogger.com,1999:blog-123.post-456".
func (i *FeedItem) PostID() string {
	if idx := strings.LastIndex(i.ID, "post-"); idx >= 0 {
		return i.ID[idx+len("post-"):]
	}
	return i.ID
}

// UpdatedTime returns the item's update time, falling back to its publish time.
func (i *FeedItem) UpdatedTime() time.Time {
	if i.Updated > 0 {
		return time.Unix(i.Updated, 0).UTC()
	}
	if i.Published > 0 {
		return time.Unix(i.Published, 0).UTC()
	}
	return time.Time{}
}

// ParseFeedNotification decodes a feed notification and returns its first item.
func ParseFeedNotification(body []byte) (*FeedItem, error) {
	var n FeedNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("unmarshal feed notification: %w", err)
	}
	if len(n.Items) == 0 {
		return nil, fmt.Errorf("feed notification has no items")
	}
	item := n.Items[0]
	if item.ID == "" {
		return nil, fmt.Errorf("feed item missing id")
	}
	if item.PermalinkURL == "" {
		return nil, fmt.Errorf("feed item missing permalinkUrl")
	}
	return &item, nil
}
