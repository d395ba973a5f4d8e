// Package youtube looks up videos and channels through the YouTube Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// Video is the subset of video metadata the relay renders.
type Video struct {
	ID                   string
	ChannelID            string
	ChannelTitle         string
	Title                string
	Description          string
	ThumbnailURL         string
	LiveBroadcastContent string
	PublishedAt          time.Time
}

// Channel is the subset of channel metadata the relay needs.
type Channel struct {
	ID           string
	Title        string
	ThumbnailURL string
	VideoCount   int64
}

// Client wraps the YouTube Data API v3 client.
type Client struct {
	service  *youtube.Service
	attempts uint
	delay    time.Duration
}

// NewClient creates a new YouTube API client authenticated with an API key.
// Extra options (endpoint, HTTP client) are passed to the API service.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("YouTube API key is required")
	}

	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	return &Client{service: service, attempts: 3, delay: time.Second}, nil
}

// GetVideo fetches snippet data for one video. It returns models.ErrLookupMiss
// when the video no longer exists.
func (c *Client) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	var resp *youtube.VideoListResponse
	err := c.do(ctx, "videos.list", func() error {
		var err error
		resp, err = c.service.Videos.List([]string{"snippet"}).Id(videoID).MaxResults(1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return nil, fmt.Errorf("video %s: %w", videoID, models.ErrLookupMiss)
	}

	item := resp.Items[0]
	v := &Video{
		ID:                   item.Id,
		ChannelID:            item.Snippet.ChannelId,
		ChannelTitle:         item.Snippet.ChannelTitle,
		Title:                item.Snippet.Title,
		Description:          item.Snippet.Description,
		ThumbnailURL:         defaultThumbnail(item.Snippet.Thumbnails),
		LiveBroadcastContent: item.Snippet.LiveBroadcastContent,
	}
	if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
		v.PublishedAt = t
	}
	return v, nil
}

// GetChannel fetches snippet and statistics for one channel. It returns
// models.ErrLookupMiss when the channel no longer exists.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var resp *youtube.ChannelListResponse
	err := c.do(ctx, "channels.list", func() error {
		var err error
		resp, err = c.service.Channels.List([]string{"snippet", "statistics"}).Id(channelID).MaxResults(1).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("channel %s: %w", channelID, models.ErrLookupMiss)
	}

	item := resp.Items[0]
	ch := &Channel{ID: item.Id}
	if item.Snippet != nil {
		ch.Title = item.Snippet.Title
		ch.ThumbnailURL = defaultThumbnail(item.Snippet.Thumbnails)
	}
	if item.Statistics != nil {
		ch.VideoCount = int64(item.Statistics.VideoCount)
	}
	return ch, nil
}

func (c *Client) do(ctx context.Context, method string, call func() error) error {
	return retry.Do(
		call,
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			logger.L().Debug("Retrying YouTube API call",
				zap.String("method", method),
				zap.Uint("attempt", n),
				zap.Error(err),
			)
		}),
	)
}

func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func defaultThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Default, t.Medium, t.High} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
