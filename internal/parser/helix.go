package parser

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamNotification is the body Twitch pushes for the streams topic.
// An empty Data slice means the stream went offline.
type StreamNotification struct {
	Data []Stream `json:"data"`
}

// Stream is a single live stream in a notification.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// ParseStreamNotification decodes a streams topic notification.
func ParseStreamNotification(body []byte) (*StreamNotification, error) {
	var n StreamNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("unmarshal stream notification: %w", err)
	}
	if n.Data == nil {
		return nil, fmt.Errorf("stream notification missing data")
	}
	for i, s := range n.Data {
		if s.UserID == "" {
			return nil, fmt.Errorf("stream %d missing user_id", i)
		}
	}
	return &n, nil
}
