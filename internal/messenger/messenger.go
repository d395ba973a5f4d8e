// Package messenger defines the delivery contract of the chat platform collaborator.
package messenger

import (
	"context"

	"github.com/lightrelay/notification-relay/internal/models"
)

// Messenger delivers rendered payloads to destinations and edits them afterwards.
//
// Send returns models.ErrDestinationGone when the destination no longer exists or is
// no longer reachable. Edit returns models.ErrMessageNotFound when the referenced
// message cannot be located.
type Messenger interface {
	Send(ctx context.Context, destinationID string, payload models.MessagePayload) (models.MessageRef, error)
	Edit(ctx context.Context, ref models.MessageRef, payload models.MessagePayload) error
}
