// Package dedup decides whether a canonical event is novel for its channel.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// LiveCooldown is the minimum gap between two accepted live starts of one channel.
const LiveCooldown = time.Hour

// Reason explains a rejected decision.
type Reason string

// Rejection reasons.
const (
	ReasonNone          Reason = ""
	ReasonStreamRestart Reason = "stream_restart"
	ReasonEdit          Reason = "edit"
	ReasonConflict      Reason = "conflict"
	ReasonUnsupported   Reason = "unsupported"
)

// Decision is the outcome of Decide.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Decision struct {
	// Accepted is true when the event is valid for state purposes.
	Accepted bool
	// FanOut is true when the event must be delivered to destinations.
	FanOut bool
	// Mutated is true when State differs from the stored state and must be written.
	Mutated bool
	Reason  Reason
	State   models.ChannelState
}

// UpdateFunc receives the current channel state and returns the state to write.
// The store persists next only when write is true.
type UpdateFunc func(current models.ChannelState) (next models.ChannelState, write bool, err error)

// StateStore serializes read-modify-write cycles per channel key.
// Implementations must run fn while holding exclusive access to the key so that
// two concurrent updates for the same channel observe each other's writes.
type StateStore interface {
	Update(ctx context.Context, kind models.SourceKind, channelID string, fn UpdateFunc) error
}

// Decide applies the acceptance rules to one event against the stored state. It is pure.
func Decide(state models.ChannelState, event *models.NotificationEvent, now time.Time) Decision {
	switch {
	case event.Kind == models.KindDeletion:
		d := Decision{Accepted: true, State: state}
		if event.ItemCount != nil && *event.ItemCount != state.ItemCount {
			d.State.ItemCount = *event.ItemCount
			d.Mutated = true
		}
		return d

	case event.Kind == models.KindLiveStart:
		if !state.LastLiveAt.IsZero() && now.Sub(state.LastLiveAt) <= LiveCooldown {
			return Decision{Reason: ReasonStreamRestart, State: state}
		}
		next := state
		if now.After(next.LastLiveAt) {
			next.LastLiveAt = now
		}
		return Decision{Accepted: true, FanOut: true, Mutated: true, State: next}

	case event.Kind == models.KindNewItem && event.SourceKind == models.SourceBlogPost:
		return Decision{Accepted: true, FanOut: true, State: state}

	case event.Kind == models.KindNewItem && event.SourceKind == models.SourceVideo:
		if event.ItemCount == nil || event.ItemID == state.LastItemID || *event.ItemCount <= state.ItemCount {
			return Decision{Reason: ReasonEdit, State: state}
		}
		next := state
		next.LastItemID = event.ItemID
		next.ItemCount = *event.ItemCount
		return Decision{Accepted: true, FanOut: true, Mutated: true, State: next}
	}

	return Decision{Reason: ReasonUnsupported, State: state}
}

// Engine runs Decide atomically against a StateStore.
type Engine struct {
	store StateStore
	now   func() time.Time
}

// NewEngine creates an Engine backed by store.
func NewEngine(store StateStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Accept decides on event and commits the resulting state in one atomic step per channel.
// Blog posts bypass the channel state entirely.
func (e *Engine) Accept(ctx context.Context, event *models.NotificationEvent) (Decision, error) {
	if event.SourceKind == models.SourceBlogPost && event.Kind == models.KindNewItem {
		return Decide(models.ChannelState{}, event, e.now()), nil
	}
	// A deletion without a count cannot change anything.
	if event.Kind == models.KindDeletion && event.ItemCount == nil {
		return Decision{Accepted: true}, nil
	}

	now := e.now().UTC()
	var decision Decision

	err := e.store.Update(ctx, event.SourceKind, event.ChannelID, func(current models.ChannelState) (models.ChannelState, bool, error) {
		decision = Decide(current, event, now)
		if decision.Mutated {
			decision.State.UpdatedAt = now
		}
		return decision.State, decision.Mutated, nil
	})
	if err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			logger.L().Info("lost channel state race, treating event as duplicate",
				zap.String("sourceKind", string(event.SourceKind)),
				zap.String("channelId", event.ChannelID),
				zap.String("itemId", event.ItemID),
			)
			return Decision{Reason: ReasonConflict}, nil
		}
		return Decision{}, fmt.Errorf("update channel state: %w", err)
	}

	return decision, nil
}
