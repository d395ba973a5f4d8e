// Package renewal keeps hub subscriptions leased and provider tokens fresh.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/service"
	"github.com/lightrelay/notification-relay/internal/worker"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// ChannelLister lists the channel ids under tracking for a source.
type ChannelLister interface {
	DistinctChannels(ctx context.Context, kind models.SourceKind) ([]string, error)
}

// TokenValidator checks a cached access token and refreshes it when invalid.
type TokenValidator interface {
	EnsureValid(ctx context.Context) error
}

// HeaderSource supplies per-request hub headers such as bearer auth.
type HeaderSource interface {
	AuthHeader(ctx context.Context) (http.Header, error)
}

// Target describes how to renew the subscriptions of one source.
type Target struct {
	Kind        models.SourceKind
	HubURL      string
	CallbackURL string
	Topic       func(channelID string) string
	Format      service.BodyFormat
	// Headers and Validator are optional.
	Headers   HeaderSource
	Validator TokenValidator
}

// Config controls the scheduler timers.
type Config struct {
	Interval      time.Duration
	LeaseSeconds  int
	Pause         time.Duration
	PingURL       string
	PingInterval  time.Duration
	TokenInterval time.Duration
}

// Summary is the outcome of one renewal pass of a target.
type Summary struct {
	Kind    models.SourceKind
	Total   int
	Renewed int
	Failed  int
}

// Scheduler renews hub leases, pings the feed aggregator and refreshes tokens on timers.
type Scheduler struct {
	cfg      Config
	hub      service.PubSubHub
	channels ChannelLister
	targets  []Target
	client   service.HTTPClient
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	log      *zap.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	initial  sync.WaitGroup
	stopping chan struct{}
}

// New creates a Scheduler.
func New(cfg Config, hub service.PubSubHub, channels ChannelLister, targets []Target, client service.HTTPClient, m *metrics.Metrics) *Scheduler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	limit := rate.Inf
	if cfg.Pause > 0 {
		limit = rate.Every(cfg.Pause)
	}
	return &Scheduler{
		cfg:      cfg,
		hub:      hub,
		channels: channels,
		targets:  targets,
		client:   client,
		metrics:  m,
		limiter:  rate.NewLimiter(limit, 1),
		log:      logger.Named("renewal"),
		stopping: make(chan struct{}),
	}
}

// Start registers the timers and runs a first renewal pass in the background.
// Jobs run on a context detached from ctx's cancellation so a channel in flight
// completes; Stop ends them between channels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("renewal scheduler already started")
	}

	ctx = context.WithoutCancel(ctx)
	c := worker.NewCron(s.log)

	if _, err := c.AddFunc(every(s.cfg.Interval), func() { s.RenewAll(ctx) }); err != nil {
		return fmt.Errorf("schedule renewal: %w", err)
	}
	if s.cfg.PingURL != "" && s.cfg.PingInterval > 0 {
		if _, err := c.AddFunc(every(s.cfg.PingInterval), func() { _ = s.Ping(ctx) }); err != nil {
			return fmt.Errorf("schedule ping: %w", err)
		}
	}
	if s.cfg.TokenInterval > 0 {
		if _, err := c.AddFunc(every(s.cfg.TokenInterval), func() { s.RefreshTokens(ctx) }); err != nil {
			return fmt.Errorf("schedule token refresh: %w", err)
		}
	}

	s.cron = c
	c.Start()

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.RenewAll(ctx)
	}()

	s.log.Info("Renewal scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("pingInterval", s.cfg.PingInterval),
		zap.Int("targets", len(s.targets)),
	)
	return nil
}

// Stop prevents further renewal calls and waits for running jobs to finish their
// current channel, or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	select {
	case <-s.stopping:
	default:
		close(s.stopping)
	}

	if c == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for renewal jobs: %w", ctx.Err())
	}
}

// RenewAll runs one renewal pass over every target. Failures are logged, never returned;
// the next pass retries.
func (s *Scheduler) RenewAll(ctx context.Context) []Summary {
	summaries := make([]Summary, 0, len(s.targets))
	for _, t := range s.targets {
		if s.stopped() {
			break
		}
		summary, err := s.RenewTarget(ctx, t)
		if err != nil {
			s.log.Error("Renewal pass aborted",
				zap.String("sourceKind", string(t.Kind)),
				zap.Error(err),
			)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// RenewTarget re-subscribes every tracked channel of one target. A token that
// cannot be refreshed skips the whole target.
func (s *Scheduler) RenewTarget(ctx context.Context, t Target) (Summary, error) {
	summary := Summary{Kind: t.Kind}
	src := string(t.Kind)

	if t.Validator != nil {
		if err := t.Validator.EnsureValid(ctx); err != nil {
			s.metrics.Renewal(src, metrics.ResultFailed)
			return summary, fmt.Errorf("validate token: %w", err)
		}
	}

	ids, err := s.channels.DistinctChannels(ctx, t.Kind)
	if err != nil {
		return summary, fmt.Errorf("list channels: %w", err)
	}
	summary.Total = len(ids)

	for _, id := range ids {
		if s.stopped() {
			break
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return summary, err
		}

		if err := s.renewChannel(ctx, t, id); err != nil {
			summary.Failed++
			s.metrics.Renewal(src, metrics.ResultFailed)
			s.log.Warn("Failed to renew subscription",
				zap.String("sourceKind", src),
				zap.String("channelId", id),
				zap.Error(err),
			)
			continue
		}
		summary.Renewed++
		s.metrics.Renewal(src, metrics.ResultOK)
	}

	s.log.Info("Renewal pass completed",
		zap.String("sourceKind", src),
		zap.Int("total", summary.Total),
		zap.Int("renewed", summary.Renewed),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (s *Scheduler) renewChannel(ctx context.Context, t Target, channelID string) error {
	req := &service.SubscribeRequest{
		HubURL:       t.HubURL,
		TopicURL:     t.Topic(channelID),
		CallbackURL:  t.CallbackURL,
		LeaseSeconds: s.cfg.LeaseSeconds,
		Format:       t.Format,
	}
	if t.Headers != nil {
		h, err := t.Headers.AuthHeader(ctx)
		if err != nil {
			return fmt.Errorf("build hub headers: %w", err)
		}
		req.Header = h
	}

	resp, err := s.hub.Subscribe(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("%w: status %d", models.ErrUpstreamRenewal, resp.StatusCode)
	}
	return nil
}

// Ping asks the feed aggregator to refresh. Failures are logged only.
func (s *Scheduler) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.PingURL, nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("Aggregator ping failed", zap.Error(err))
		return fmt.Errorf("ping aggregator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.log.Warn("Aggregator ping rejected",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return fmt.Errorf("ping aggregator: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// RefreshTokens validates every target's token.
func (s *Scheduler) RefreshTokens(ctx context.Context) {
	for _, t := range s.targets {
		if t.Validator == nil {
			continue
		}
		if err := t.Validator.EnsureValid(ctx); err != nil {
			s.log.Error("Provider token refresh failed",
				zap.String("sourceKind", string(t.Kind)),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

func every(d time.Duration) string {
	if d <= 0 {
		d = 24 * time.Hour
	}
	return "@every " + d.String()
}
