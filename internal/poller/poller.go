// Package poller edits delivered blog announcements when their post changes.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/messenger"
	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/render"
	"github.com/lightrelay/notification-relay/internal/service/blogger"
	"github.com/lightrelay/notification-relay/internal/worker"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// TrackingStore reads and updates post tracking records.
type TrackingStore interface {
	ListActive(ctx context.Context) ([]*models.PostTrackingRecord, error)
	RecordEdit(ctx context.Context, destinationID, blogID string, updatedAt time.Time) error
	RecordMiss(ctx context.Context, destinationID, blogID string, maxMisses int) (int, error)
}

// PostFetcher reads blog posts.
type PostFetcher interface {
	GetPost(ctx context.Context, postID string) (*blogger.Post, error)
}

// EventBuilder converts a fetched post into a canonical event.
type EventBuilder interface {
	EventFromPost(post *blogger.Post) *models.NotificationEvent
}

// commitTimeout bounds a tracking write made after its edit was applied.
const commitTimeout = 10 * time.Second

// SubscriptionLister lists the subscriptions of a blog.
type SubscriptionLister interface {
	ListByChannel(ctx context.Context, kind models.SourceKind, channelID string) ([]*models.Subscription, error)
}

// Config controls the poller.
type Config struct {
	Interval  time.Duration
	MaxMisses int
}

// Summary is the outcome of one poll pass.
type Summary struct {
	Checked int
	Fetched int
	Edited  int
	Missed  int
	Failed  int
}

// Poller periodically re-fetches delivered posts and edits their messages.
type Poller struct {
	cfg       Config
	tracking  TrackingStore
	posts     PostFetcher
	events    EventBuilder
	subs      SubscriptionLister
	renderer  *render.Renderer
	messenger messenger.Messenger
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	stopping chan struct{}
}

// New creates a Poller.
func New(cfg Config, tracking TrackingStore, posts PostFetcher, events EventBuilder, subs SubscriptionLister,
	renderer *render.Renderer, m messenger.Messenger, mt *metrics.Metrics,
) *Poller {
	return &Poller{
		cfg:       cfg,
		tracking:  tracking,
		posts:     posts,
		events:    events,
		subs:      subs,
		renderer:  renderer,
		messenger: m,
		metrics:   mt,
		log:       logger.Named("poller"),
		stopping:  make(chan struct{}),
	}
}

// Start schedules Poll every Interval. Passes run on a context detached from ctx's
// cancellation; Stop ends them between records.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return errors.New("poller already started")
	}

	interval := p.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx = context.WithoutCancel(ctx)
	c := worker.NewCron(p.log)
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		if _, err := p.Poll(ctx); err != nil {
			p.log.Error("Poll pass failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule poller: %w", err)
	}

	p.cron = c
	c.Start()
	p.log.Info("Post-update poller started", zap.Duration("interval", interval))
	return nil
}

// Stop prevents further edits and waits for a running pass to finish its current record.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	select {
	case <-p.stopping:
	default:
		close(p.stopping)
	}

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for poll pass: %w", ctx.Err())
	}
}

type fetchResult struct {
	post *blogger.Post
	err  error
}

// Poll runs one pass over every active tracking record. Each record is committed on its own.
func (p *Poller) Poll(ctx context.Context) (Summary, error) {
	var summary Summary

	records, err := p.tracking.ListActive(ctx)
	if err != nil {
		return summary, fmt.Errorf("list tracked posts: %w", err)
	}

	posts := make(map[string]fetchResult)
	keywords := make(map[string]map[string][]string)

	for _, rec := range records {
		if p.stopped() {
			break
		}
		summary.Checked++

		log := p.log.With(
			zap.String("destinationId", rec.DestinationID),
			zap.String("channelId", rec.BlogID),
			zap.String("itemId", rec.LastPostID),
		)

		res, ok := posts[rec.LastPostID]
		if !ok {
			post, err := p.posts.GetPost(ctx, rec.LastPostID)
			res = fetchResult{post: post, err: err}
			posts[rec.LastPostID] = res
			summary.Fetched++
		}
		if res.err != nil {
			if errors.Is(res.err, models.ErrLookupMiss) {
				log.Debug("Tracked post no longer available")
			} else {
				log.Warn("Failed to fetch tracked post", zap.Error(res.err))
				summary.Failed++
			}
			continue
		}

		updated := res.post.Updated.UTC().Truncate(time.Second)
		if !updated.After(rec.LastUpdatedAt) {
			continue
		}

		kw, err := p.destinationKeywords(ctx, keywords, rec.BlogID)
		if err != nil {
			log.Warn("Failed to load subscription filters", zap.Error(err))
			summary.Failed++
			continue
		}

		event := p.events.EventFromPost(res.post)
		fields := render.KeywordFields(render.CleanText(event.Description), kw[rec.DestinationID])
		payload := p.renderer.Render(event, fields)

		err = p.messenger.Edit(ctx, rec.DeliveredMessageRef, payload)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrMessageNotFound), errors.Is(err, models.ErrDestinationGone):
			summary.Missed++
			p.metrics.PostEdit(metrics.ResultMissed)
			misses, mErr := p.recordMiss(ctx, rec)
			if mErr != nil {
				log.Error("Failed to record missing message", zap.Error(mErr))
				continue
			}
			if p.cfg.MaxMisses > 0 && misses >= p.cfg.MaxMisses {
				log.Info("Delivered message missing too long, no longer tracking post", zap.Int("misses", misses))
			} else {
				log.Debug("Delivered message not found, skipping", zap.Int("misses", misses))
			}
			continue
		default:
			summary.Failed++
			p.metrics.PostEdit(metrics.ResultFailed)
			log.Warn("Failed to edit delivered message", zap.Error(err))
			continue
		}

		if err := p.recordEdit(ctx, rec, updated); err != nil {
			summary.Failed++
			log.Error("Failed to record post edit", zap.Error(err))
			continue
		}
		summary.Edited++
		p.metrics.PostEdit(metrics.ResultOK)
		log.Info("Edited delivered message for updated post", zap.Int("updateCount", rec.UpdateCount+1))
	}

	if summary.Edited > 0 || summary.Missed > 0 || summary.Failed > 0 {
		p.log.Info("Poll pass completed",
			zap.Int("checked", summary.Checked),
			zap.Int("fetched", summary.Fetched),
			zap.Int("edited", summary.Edited),
			zap.Int("missed", summary.Missed),
			zap.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

// recordEdit commits an applied edit. The message has already changed, so the write
// must not be lost to a cancellation that arrived during Edit.
func (p *Poller) recordEdit(ctx context.Context, rec *models.PostTrackingRecord, updated time.Time) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return p.tracking.RecordEdit(ctx, rec.DestinationID, rec.BlogID, updated)
}

func (p *Poller) recordMiss(ctx context.Context, rec *models.PostTrackingRecord) (int, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	return p.tracking.RecordMiss(ctx, rec.DestinationID, rec.BlogID, p.cfg.MaxMisses)
}

// destinationKeywords loads, once per pass, each destination's keywords for a blog.
func (p *Poller) destinationKeywords(ctx context.Context, cache map[string]map[string][]string, blogID string) (map[string][]string, error) {
	if kw, ok := cache[blogID]; ok {
		return kw, nil
	}
	subs, err := p.subs.ListByChannel(ctx, models.SourceBlogPost, blogID)
	if err != nil {
		return nil, err
	}
	kw := make(map[string][]string, len(subs))
	for _, s := range subs {
		kw[s.DestinationID] = s.Filters.Keywords
	}
	cache[blogID] = kw
	return kw, nil
}

func (p *Poller) stopped() bool {
	select {
	case <-p.stopping:
		return true
	default:
		return false
	}
}
