package source

import (
	"context"
	"fmt"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/parser"
)

// Live broadcast markers reported for videos.
const (
	broadcastNone = "none"
	broadcastLive = "live"
)

// VideoAdapter handles YouTube Atom callbacks.
type VideoAdapter struct {
	lookup VideoLookup
	clock  clock
}

// NewVideoAdapter creates a VideoAdapter.
func NewVideoAdapter(lookup VideoLookup) *VideoAdapter {
	return &VideoAdapter{lookup: lookup}
}

// Kind implements Adapter.
func (a *VideoAdapter) Kind() models.SourceKind { return models.SourceVideo }

// Parse implements Adapter.
func (a *VideoAdapter) Parse(ctx context.Context, body []byte) (*models.NotificationEvent, error) {
	data, err := parser.ParseAtomFeed(string(body))
	if err != nil {
		return nil, models.NewParseError(models.SourceVideo, err)
	}

	if data.IsDeleted {
		return a.deletion(ctx, data, body)
	}

	video, err := a.lookup.GetVideo(ctx, data.VideoID)
	if err != nil {
		return nil, err
	}

	var kind models.EventKind
	switch video.LiveBroadcastContent {
	case broadcastNone:
		kind = models.KindNewItem
	case broadcastLive:
		kind = models.KindLiveStart
	default:
		return nil, fmt.Errorf("video %s is %q: %w", data.VideoID, video.LiveBroadcastContent, models.ErrIgnored)
	}

	channelID := video.ChannelID
	if channelID == "" {
		channelID = data.ChannelID
	}
	channel, err := a.lookup.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	title := video.Title
	if title == "" {
		title = data.Title
	}
	occurred := data.PublishedAt
	if occurred.IsZero() {
		occurred = a.clock.now()
	}
	count := channel.VideoCount

	return &models.NotificationEvent{
		SourceKind:     models.SourceVideo,
		Kind:           kind,
		ChannelID:      channelID,
		ItemID:         data.VideoID,
		Title:          title,
		Description:    video.Description,
		URL:            data.VideoURL,
		ImageURL:       video.ThumbnailURL,
		AuthorName:     video.ChannelTitle,
		AuthorImageURL: channel.ThumbnailURL,
		RawBody:        string(body),
		ItemCount:      &count,
		OccurredAt:     occurred.UTC(),
	}, nil
}

// deletion refreshes the channel's authoritative item count.
func (a *VideoAdapter) deletion(ctx context.Context, data *parser.VideoData, body []byte) (*models.NotificationEvent, error) {
	channel, err := a.lookup.GetChannel(ctx, data.ChannelID)
	if err != nil {
		return nil, err
	}
	count := channel.VideoCount

	occurred := data.UpdatedAt
	if occurred.IsZero() {
		occurred = a.clock.now()
	}

	return &models.NotificationEvent{
		SourceKind: models.SourceVideo,
		Kind:       models.KindDeletion,
		ChannelID:  data.ChannelID,
		ItemID:     data.VideoID,
		RawBody:    string(body),
		ItemCount:  &count,
		OccurredAt: occurred.UTC(),
	}, nil
}
