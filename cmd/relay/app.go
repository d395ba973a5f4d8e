package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/config"
	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/internal/db/repository"
	"github.com/lightrelay/notification-relay/internal/handler"
	"github.com/lightrelay/notification-relay/internal/metrics"
	"github.com/lightrelay/notification-relay/internal/models"
	"github.com/lightrelay/notification-relay/internal/renewal"
	"github.com/lightrelay/notification-relay/internal/service"
	"github.com/lightrelay/notification-relay/internal/service/blogger"
	"github.com/lightrelay/notification-relay/internal/service/twitch"
	"github.com/lightrelay/notification-relay/internal/service/youtube"
	"github.com/lightrelay/notification-relay/internal/source"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

const providerTimeout = 15 * time.Second

// app holds the collaborators shared by the subcommands. Provider clients are nil
// when their credentials are not configured.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type app struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	http    *http.Client
	hub     *service.PubSubHubService

	states   repository.ChannelStateRepository
	subs     repository.SubscriptionRepository
	tracking repository.PostTrackingRepository

	youtube *youtube.Client
	twitch  *twitch.Client
	tokens  *twitch.TokenManager
	blogger *blogger.Client
}

// loadApp reads configuration, initializes logging and connects to the database.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, dbConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Log.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.Int32("maxConns", pool.Config().MaxConns),
	)

	httpClient := &http.Client{Timeout: providerTimeout}
	a := &app{
		cfg:      cfg,
		pool:     pool,
		metrics:  metrics.New(),
		http:     httpClient,
		hub:      service.NewPubSubHubService(httpClient, logger.Named("hub")),
		states:   repository.NewChannelStateRepository(pool),
		subs:     repository.NewSubscriptionRepository(pool),
		tracking: repository.NewPostTrackingRepository(pool),
	}

	if err := a.initProviders(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) initProviders(ctx context.Context) error {
	var err error

	if a.cfg.YouTube.APIKey != "" {
		if a.youtube, err = youtube.NewClient(ctx, a.cfg.YouTube.APIKey); err != nil {
			return err
		}
	} else {
		logger.Log.Warn("YouTube API key not configured, video callbacks are disabled")
	}

	if a.cfg.Twitch.ClientID != "" {
		tw := a.cfg.Twitch
		a.tokens = twitch.NewTokenManager(tw.ClientID, tw.ClientSecret, tw.TokenURL, tw.ValidateURL, a.http)
		a.twitch = twitch.NewClient(tw.APIURL, tw.ClientID, a.tokens, a.http)
	} else {
		logger.Log.Warn("Twitch client id not configured, livestream callbacks are disabled")
	}

	if a.cfg.Blog.BlogID != "" {
		if a.blogger, err = blogger.NewClient(ctx, a.cfg.Blog.APIKey, a.cfg.Blog.BlogID); err != nil {
			return err
		}
	} else {
		logger.Log.Warn("Blog id not configured, blog callbacks are disabled")
	}

	return nil
}

// adapters returns the source adapters of every configured provider.
func (a *app) adapters() ([]source.Adapter, *source.BlogAdapter) {
	var out []source.Adapter
	var blog *source.BlogAdapter

	if a.youtube != nil {
		out = append(out, source.NewVideoAdapter(a.youtube))
	}
	if a.twitch != nil {
		out = append(out, source.NewLivestreamAdapter(a.twitch))
	}
	if a.blogger != nil {
		blog = source.NewBlogAdapter(a.blogger, a.blogger.BlogID(), a.cfg.Blog.AvatarURLTemplate)
		out = append(out, blog)
	}
	return out, blog
}

// renewalTargets returns one renewal target per configured hub-backed provider.
func (a *app) renewalTargets() []renewal.Target {
	var targets []renewal.Target

	if a.youtube != nil {
		targets = append(targets, renewal.Target{
			Kind:        models.SourceVideo,
			HubURL:      a.cfg.YouTube.HubURL,
			CallbackURL: a.cfg.Server.CallbackURL(handler.PathVideo),
			Topic:       service.YouTubeTopic,
			Format:      service.FormBody,
		})
	}
	if a.twitch != nil {
		targets = append(targets, renewal.Target{
			Kind:        models.SourceLivestream,
			HubURL:      a.cfg.Twitch.HubURL,
			CallbackURL: a.cfg.Server.CallbackURL(handler.PathLivestream),
			Topic:       service.TwitchStreamTopic,
			Format:      service.JSONBody,
			Headers:     a.twitch,
			Validator:   a.tokens,
		})
	}
	return targets
}

func (a *app) scheduler() *renewal.Scheduler {
	r := a.cfg.Renewal
	return renewal.New(renewal.Config{
		Interval:      r.Interval,
		LeaseSeconds:  r.LeaseSeconds,
		Pause:         r.Pause,
		PingURL:       r.PingURL,
		PingInterval:  r.PingInterval,
		TokenInterval: r.TokenInterval,
	}, a.hub, a.subs, a.renewalTargets(), a.http, a.metrics)
}

func (a *app) close() {
	a.pool.Close()
	_ = logger.Sync()
}

func dbConfig(c config.DatabaseConfig) *db.Config {
	cfg := db.DefaultConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.User = c.User
	cfg.Password = c.Password
	cfg.Database = c.Name
	cfg.SSLMode = c.SSLMode
	if c.MaxConnections > 0 {
		cfg.MaxConns = int32(c.MaxConnections)
	}
	if c.MinConnections > 0 {
		cfg.MinConns = int32(c.MinConnections)
	}
	if c.MaxIdleTime > 0 {
		cfg.MaxConnIdleTime = c.MaxIdleTime
	}
	if c.MaxLifetime > 0 {
		cfg.MaxConnLifetime = c.MaxLifetime
	}
	if c.LockTimeout > 0 {
		cfg.LockTimeout = c.LockTimeout
	}
	return cfg
}

var errMissingDiscordToken = errors.New("discord token is required to serve")
