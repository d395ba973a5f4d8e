package source

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/parser"
	"github.com/lightrelay/notification-relay/internal/service/twitch"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

const (
	channelURLPrefix = "https://www.twitch.tv/"
	previewWidth     = 320
	previewHeight    = 180
	boxArtSize       = 300
)

// LivestreamAdapter handles Helix stream callbacks.
type LivestreamAdapter struct {
	lookup StreamLookup
	clock  clock
}

// NewLivestreamAdapter creates a LivestreamAdapter.
func NewLivestreamAdapter(lookup StreamLookup) *LivestreamAdapter {
	return &LivestreamAdapter{lookup: lookup}
}

// Kind implements Adapter.
func (a *LivestreamAdapter) Kind() models.SourceKind { return models.SourceLivestream }

// Parse implements Adapter. An empty stream list means the stream ended and yields
// a Deletion with no item count, which never fans out nor mutates state.
func (a *LivestreamAdapter) Parse(ctx context.Context, body []byte) (*models.NotificationEvent, error) {
	n, err := parser.ParseStreamNotification(body)
	if err != nil {
		return nil, models.NewParseError(models.SourceLivestream, err)
	}

	if len(n.Data) == 0 {
		return &models.NotificationEvent{
			SourceKind: models.SourceLivestream,
			Kind:       models.KindDeletion,
			RawBody:    string(body),
			OccurredAt: a.clock.now(),
		}, nil
	}

	stream := n.Data[0]
	user, err := a.lookup.GetUser(ctx, stream.UserID)
	if err != nil {
		return nil, err
	}

	var categories []string
	var boxArt string
	game, err := a.lookup.GetGame(ctx, stream.GameID)
	switch {
	case err == nil:
		categories = []string{game.Name}
		boxArt = twitch.SizedImageURL(game.BoxArtURL, boxArtSize, boxArtSize)
	case errors.Is(err, models.ErrLookupMiss):
	default:
		logger.L().Warn("Game lookup failed, announcing without game",
			zap.String("channelId", stream.UserID),
			zap.String("gameId", stream.GameID),
			zap.Error(err),
		)
	}

	occurred := stream.StartedAt
	if occurred.IsZero() {
		occurred = a.clock.now()
	}

	return &models.NotificationEvent{
		SourceKind:     models.SourceLivestream,
		Kind:           models.KindLiveStart,
		ChannelID:      stream.UserID,
		ItemID:         stream.ID,
		Title:          stream.Title,
		URL:            channelURLPrefix + user.Login,
		ImageURL:       twitch.SizedImageURL(stream.ThumbnailURL, previewWidth, previewHeight),
		ThumbnailURL:   boxArt,
		AuthorName:     user.DisplayName,
		AuthorImageURL: user.ProfileImageURL,
		Categories:     categories,
		RawBody:        string(body),
		OccurredAt:     occurred.UTC(),
	}, nil
}
