// Package models contains the canonical types shared by the notification relay.
package models

import (
	"time"
)

// SourceKind identifies the upstream provider an event came from.
type SourceKind string

// SourceKind constants define the supported providers.
const (
	SourceVideo      SourceKind = "video"
	SourceLivestream SourceKind = "livestream"
	SourceBlogPost   SourceKind = "blog"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceVideo, SourceLivestream, SourceBlogPost:
		return true
	}
	return false
}

// EventKind classifies a canonical event.
type EventKind string

// EventKind constants define the possible classifications of a callback.
const (
	KindNewItem       EventKind = "new_item"
	KindLiveStart     EventKind = "live_start"
	KindEdit          EventKind = "edit"
	KindDeletion      EventKind = "deletion"
	KindStreamRestart EventKind = "stream_restart"
)

// NotificationEvent is the source-agnostic representation of one inbound callback.
// It is created per callback and consumed once by the pipeline.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type NotificationEvent struct {
	ID         string     `json:"id"`
	SourceKind SourceKind `json:"source_kind"`
	Kind       EventKind  `json:"kind"`
	ChannelID  string     `json:"channel_id"`
	ItemID     string     `json:"item_id"`
	Title      string     `json:"title"`
	// Description is the item body; for blog posts it is the post HTML.
	Description    string   `json:"description"`
	URL            string   `json:"url"`
	ImageURL       string   `json:"image_url"`
	ThumbnailURL   string   `json:"thumbnail_url"`
	AuthorName     string   `json:"author_name"`
	AuthorImageURL string   `json:"author_image_url"`
	Categories     []string `json:"categories"`
	RawBody        string   `json:"-"`
	// ItemCount is the provider-reported item total for the channel, when known.
	ItemCount  *int64    `json:"item_count,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	// UpdatedAt is the provider's last-modified time for the item (blog posts).
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCategory reports whether the event is tagged with category.
func (e *NotificationEvent) HasCategory(category string) bool {
	for _, c := range e.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ChannelState is the minimal per-channel state used to detect repeats.
type ChannelState struct {
	SourceKind SourceKind `db:"source_kind" json:"source_kind"`
	ChannelID  string     `db:"channel_id" json:"channel_id"`
	LastItemID string     `db:"last_item_id" json:"last_item_id"`
	LastLiveAt time.Time  `db:"last_live_at" json:"last_live_at"`
	ItemCount  int64      `db:"item_count" json:"item_count"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Subscription links one destination to one upstream channel, with its filters.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Subscription struct {
	ID            int64      `db:"id" json:"id"`
	DestinationID string     `db:"destination_id" json:"destination_id"`
	GuildID       string     `db:"guild_id" json:"guild_id"`
	SourceKind    SourceKind `db:"source_kind" json:"source_kind"`
	ChannelID     string     `db:"channel_id" json:"channel_id"`
	Filters       Filters    `json:"filters"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Filters holds the source-specific filter configuration of a subscription.
type Filters struct {
	// OnlyLivestreams restricts video/livestream subscriptions to LiveStart events.
	OnlyLivestreams bool `db:"only_livestreams" json:"only_livestreams"`
	// Categories lists the enabled blog categories.
	Categories []string `db:"categories" json:"categories"`
	// CatchAll governs delivery of blog posts without any category.
	CatchAll bool `db:"catch_all" json:"catch_all"`
	// Keywords are scanned against blog post text.
	Keywords []string `db:"keywords" json:"keywords"`
}

// MessageRef is the handle of a delivered message, used for later edits.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// IsZero reports whether the reference is unset.
func (r MessageRef) IsZero() bool {
	return r.ChannelID == "" && r.MessageID == ""
}

// PostTrackingRecord tracks the last blog post delivered to a destination.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type PostTrackingRecord struct {
	DestinationID       string     `db:"destination_id" json:"destination_id"`
	BlogID              string     `db:"blog_id" json:"blog_id"`
	LastPostID          string     `db:"last_post_id" json:"last_post_id"`
	LastUpdatedAt       time.Time  `db:"last_updated_at" json:"last_updated_at"`
	UpdateCount         int        `db:"update_count" json:"update_count"`
	DeliveredMessageRef MessageRef `json:"delivered_message_ref"`
	MissCount           int        `db:"miss_count" json:"miss_count"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// Field is a labeled text block attached to a message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// MessagePayload is the destination-agnostic rendered message.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type MessagePayload struct {
	Content       string    `json:"content"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	URL           string    `json:"url"`
	Color         int       `json:"color"`
	Timestamp     time.Time `json:"timestamp"`
	ImageURL      string    `json:"image_url"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	AuthorName    string    `json:"author_name"`
	AuthorIconURL string    `json:"author_icon_url"`
	FooterText    string    `json:"footer_text"`
	FooterIconURL string    `json:"footer_icon_url"`
	Fields        []Field   `json:"fields"`
}
