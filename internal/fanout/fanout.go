// Package fanout selects the destinations of an accepted event and delivers to them.
package fanout

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/messenger"
	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/render"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// SubscriptionRemover deletes subscriptions whose destination is gone.
type SubscriptionRemover interface {
	Delete(ctx context.Context, id int64) error
}

// Route is one destination that should receive an event, with its payload.
type Route struct {
	Subscription models.Subscription
	Payload      models.MessagePayload
}

// Delivery is the outcome of sending one Route.
type Delivery struct {
	Route Route
	Ref   models.MessageRef
	Err   error
	// Removed is true when the subscription was deleted because its destination is gone.
	Removed bool
}

// Engine applies per-destination filters and delivers rendered payloads.
type Engine struct {
	renderer  *render.Renderer
	messenger messenger.Messenger
	remover   SubscriptionRemover
	metrics   *metrics.Metrics
}

// NewEngine creates an Engine.
func NewEngine(renderer *render.Renderer, m messenger.Messenger, remover SubscriptionRemover, mt *metrics.Metrics) *Engine {
	return &Engine{renderer: renderer, messenger: m, remover: remover, metrics: mt}
}

// Route returns, in subscription order, the destinations that should receive event.
func (e *Engine) Route(event *models.NotificationEvent, subs []models.Subscription) []Route {
	var routes []Route

	var cleaned string
	if event.SourceKind == models.SourceBlogPost {
		cleaned = render.CleanText(event.Description)
	}

	for _, sub := range subs {
		if !Matches(event, sub.Filters) {
			continue
		}

		var fields []models.Field
		if event.SourceKind == models.SourceBlogPost {
			fields = render.KeywordFields(cleaned, sub.Filters.Keywords)
		}

		routes = append(routes, Route{
			Subscription: sub,
			Payload:      e.renderer.Render(event, fields),
		})
	}
	return routes
}

// Matches reports whether a destination with filters wants event.
func Matches(event *models.NotificationEvent, filters models.Filters) bool {
	switch event.SourceKind {
	case models.SourceVideo, models.SourceLivestream:
		return !(filters.OnlyLivestreams && event.Kind == models.KindNewItem)
	case models.SourceBlogPost:
		if len(event.Categories) == 0 {
			return filters.CatchAll
		}
		for _, want := range filters.Categories {
			if event.HasCategory(want) {
				return true
			}
		}
		return false
	}
	return false
}

// Deliver sends every route in order. A failure for one destination never stops
// delivery to the others; destinations reported gone lose their subscription.
func (e *Engine) Deliver(ctx context.Context, event *models.NotificationEvent, routes []Route) []Delivery {
	deliveries := make([]Delivery, 0, len(routes))
	source := string(event.SourceKind)

	for _, route := range routes {
		d := Delivery{Route: route}
		d.Ref, d.Err = e.messenger.Send(ctx, route.Subscription.DestinationID, route.Payload)

		log := logger.L().With(
			zap.String("sourceKind", source),
			zap.String("channelId", event.ChannelID),
			zap.String("itemId", event.ItemID),
			zap.String("destinationId", route.Subscription.DestinationID),
		)

		switch {
		case d.Err == nil:
			e.metrics.Delivery(source, metrics.ResultOK)
			log.Debug("Delivered notification")

		case errors.Is(d.Err, models.ErrDestinationGone):
			e.metrics.Delivery(source, metrics.ResultGone)
			if err := e.remover.Delete(ctx, route.Subscription.ID); err != nil {
				log.Error("Failed to remove subscription of gone destination", zap.Error(err))
			} else {
				d.Removed = true
				log.Warn("Destination gone, subscription removed", zap.Error(d.Err))
			}

		default:
			e.metrics.Delivery(source, metrics.ResultFailed)
			log.Warn("Delivery failed", zap.Error(d.Err))
		}

		deliveries = append(deliveries, d)
	}

	return deliveries
}
