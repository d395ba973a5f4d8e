// Package source translates provider callback payloads into canonical events.
package source

import (
	"context"
	"time"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/service/blogger"
	"github.com/lightrelay/notification-relay/internal/service/twitch"
	"github.com/lightrelay/notification-relay/internal/service/youtube"
)

// Adapter parses one provider's callback body.
//
// Parse returns a *models.ParseError for malformed payloads, an error wrapping
// models.ErrLookupMiss or models.ErrIgnored for payloads with nothing to deliver,
// and any other error for failed provider lookups.
type Adapter interface {
	Kind() models.SourceKind
	Parse(ctx context.Context, body []byte) (*models.NotificationEvent, error)
}

// VideoLookup reads video and channel metadata.
type VideoLookup interface {
	GetVideo(ctx context.Context, videoID string) (*youtube.Video, error)
	GetChannel(ctx context.Context, channelID string) (*youtube.Channel, error)
}

// StreamLookup reads livestream user and game metadata.
type StreamLookup interface {
	GetUser(ctx context.Context, id string) (*twitch.User, error)
	GetGame(ctx context.Context, id string) (*twitch.Game, error)
}

// PostLookup reads blog posts.
type PostLookup interface {
	GetPost(ctx context.Context, postID string) (*blogger.Post, error)
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
