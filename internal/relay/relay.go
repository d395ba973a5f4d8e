// Package relay runs one callback through the notification pipeline.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/dedup"
	"github.com/lightrelay/notification-relay/internal/fanout"
	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/source"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// Outcome labels recorded besides dedup reasons.
const (
	OutcomeAccepted   = "accepted"
	OutcomeParseError = "parse_error"
	OutcomeDropped    = "dropped"
)

// ErrUnknownSource is returned for callbacks of a source with no adapter.
var ErrUnknownSource = errors.New("unknown source kind")

// Decider decides whether an event is novel.
type Decider interface {
	Accept(ctx context.Context, event *models.NotificationEvent) (dedup.Decision, error)
}

// SubscriptionLister lists the subscriptions of a channel.
type SubscriptionLister interface {
	ListByChannel(ctx context.Context, kind models.SourceKind, channelID string) ([]*models.Subscription, error)
}

// Router selects destinations and delivers to them.
type Router interface {
	Route(event *models.NotificationEvent, subs []models.Subscription) []fanout.Route
	Deliver(ctx context.Context, event *models.NotificationEvent, routes []fanout.Route) []fanout.Delivery
}

// PostTracker records blog deliveries for the post-update poller.
type PostTracker interface {
	Upsert(ctx context.Context, rec *models.PostTrackingRecord) error
}

// Mirror republishes accepted events.
type Mirror interface {
	Publish(ctx context.Context, event *models.NotificationEvent) error
}

// Deps are the collaborators of a Pipeline. Tracker and Mirror may be nil.
type Deps struct {
	Adapters      []source.Adapter
	Decider       Decider
	Subscriptions SubscriptionLister
	Router        Router
	Tracker       PostTracker
	Mirror        Mirror
	Metrics       *metrics.Metrics
}

// Pipeline wires adapters, dedup and fan-out together.
type Pipeline struct {
	adapters map[models.SourceKind]source.Adapter
	deps     Deps
	newID    func() string
}

// Result describes what happened to one callback. Event is nil when the payload was dropped.
type Result struct {
	Event      *models.NotificationEvent
	Decision   dedup.Decision
	Deliveries []fanout.Delivery
}

// NewPipeline creates a Pipeline.
func NewPipeline(deps Deps) *Pipeline {
	adapters := make(map[models.SourceKind]source.Adapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		adapters[a.Kind()] = a
	}
	return &Pipeline{adapters: adapters, deps: deps, newID: uuid.NewString}
}

// Process parses body as a callback of kind and carries it through dedup and fan-out.
// Benign drops return a nil error. Parse errors and store failures are returned.
func (p *Pipeline) Process(ctx context.Context, kind models.SourceKind, body []byte) (*Result, error) {
	adapter, ok := p.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, kind)
	}

	src := string(kind)
	defer p.deps.Metrics.ObservePipeline(src, time.Now())

	event, err := adapter.Parse(ctx, body)
	switch {
	case err == nil:
	case models.IsBenignDrop(err):
		p.deps.Metrics.Decision(src, OutcomeDropped)
		logger.L().Debug("Dropped callback with nothing to deliver",
			zap.String("sourceKind", src),
			zap.Error(err),
		)
		return &Result{}, nil
	case models.IsParseError(err):
		p.deps.Metrics.Decision(src, OutcomeParseError)
		return nil, err
	default:
		return nil, fmt.Errorf("resolve %s event: %w", src, err)
	}

	event.ID = p.newID()
	log := logger.L().With(
		zap.String("eventId", event.ID),
		zap.String("sourceKind", src),
		zap.String("channelId", event.ChannelID),
		zap.String("itemId", event.ItemID),
	)

	// Subscriptions are read before the decision commits, so a failed read leaves the
	// channel state untouched and a redelivery is still seen as new.
	var subs []*models.Subscription
	if mayFanOut(event) {
		subs, err = p.deps.Subscriptions.ListByChannel(ctx, event.SourceKind, event.ChannelID)
		if err != nil {
			log.Error("Failed to list subscriptions, event not committed", zap.Error(err))
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
	}

	decision, err := p.deps.Decider.Accept(ctx, event)
	if err != nil {
		return nil, err
	}
	result := &Result{Event: event, Decision: decision}

	if !decision.FanOut {
		p.deps.Metrics.Decision(src, outcome(decision))
		switch decision.Reason {
		case dedup.ReasonNone:
			log.Debug("Event accepted without fan-out", zap.String("kind", string(event.Kind)))
		case dedup.ReasonUnsupported:
			log.Warn("Unsupported event kind", zap.String("kind", string(event.Kind)))
		default:
			log.Info("Event rejected", zap.String("reason", string(decision.Reason)))
		}
		return result, nil
	}
	p.deps.Metrics.Decision(src, OutcomeAccepted)

	routes := p.deps.Router.Route(event, derefSubscriptions(subs))
	log.Info("Fanning out event",
		zap.String("kind", string(event.Kind)),
		zap.Int("subscriptions", len(subs)),
		zap.Int("destinations", len(routes)),
	)
	result.Deliveries = p.deps.Router.Deliver(ctx, event, routes)

	if event.SourceKind == models.SourceBlogPost {
		p.track(ctx, event, result.Deliveries)
	}

	if p.deps.Mirror != nil {
		if err := p.deps.Mirror.Publish(ctx, event); err != nil {
			log.Warn("Failed to mirror event", zap.Error(err))
		}
	}

	return result, nil
}

func mayFanOut(event *models.NotificationEvent) bool {
	return event.Kind == models.KindNewItem || event.Kind == models.KindLiveStart
}

// track stores the message reference of every successful blog delivery.
func (p *Pipeline) track(ctx context.Context, event *models.NotificationEvent, deliveries []fanout.Delivery) {
	if p.deps.Tracker == nil {
		return
	}
	for _, d := range deliveries {
		if d.Err != nil || d.Ref.IsZero() {
			continue
		}
		rec := &models.PostTrackingRecord{
			DestinationID:       d.Route.Subscription.DestinationID,
			BlogID:              event.ChannelID,
			LastPostID:          event.ItemID,
			LastUpdatedAt:       event.UpdatedAt,
			DeliveredMessageRef: d.Ref,
		}
		if err := p.deps.Tracker.Upsert(ctx, rec); err != nil {
			logger.L().Error("Failed to record blog delivery",
				zap.String("destinationId", rec.DestinationID),
				zap.String("itemId", rec.LastPostID),
				zap.Error(err),
			)
		}
	}
}

func outcome(d dedup.Decision) string {
	if d.Reason == dedup.ReasonNone {
		return OutcomeAccepted
	}
	return string(d.Reason)
}

func derefSubscriptions(subs []*models.Subscription) []models.Subscription {
	out := make([]models.Subscription, 0, len(subs))
	for _, s := range subs {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}
