package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/dedup"
	"github.com/lightrelay/notification-relay/internal/fanout"
	"github.com/lightrelay/notification-relay/internal/handler"
	"github.com/lightrelay/notification-relay/internal/messenger/discord"
	"github.com/lightrelay/notification-relay/internal/poller"
	"github.com/lightrelay/notification-relay/internal/relay"
	"github.com/lightrelay/notification-relay/internal/render"
	"github.com/lightrelay/notification-relay/internal/service"
	"github.com/lightrelay/notification-relay/internal/worker"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

const (
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve hub callbacks and run the renewal and post-update jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if migrateFirst {
				if err := runMigrations(a.cfg.Database.URL(), 0); err != nil {
					return err
				}
			}
			return serve(ctx, a)
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	if cfg.Discord.Token == "" {
		return errMissingDiscordToken
	}

	messenger := discord.NewClient(cfg.Discord.APIURL, cfg.Discord.Token, discord.WithHTTPClient(a.http))
	renderer := render.New(render.Options{
		BlogName:         cfg.Blog.Name,
		BlogThumbnailURL: cfg.Blog.ThumbnailURL,
	})

	var mirror *service.EventMirror
	if cfg.RabbitMQ.Enabled {
		m, err := service.NewEventMirror(&cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("failed to connect event mirror: %w", err)
		}
		mirror = m
		defer func() {
			if err := mirror.Close(); err != nil {
				logger.Log.Warn("Failed to close event mirror", zap.Error(err))
			}
		}()
	}

	adapters, blogAdapter := a.adapters()
	deps := relay.Deps{
		Adapters:      adapters,
		Decider:       dedup.NewEngine(a.states),
		Subscriptions: a.subs,
		Router:        fanout.NewEngine(renderer, messenger, a.subs, a.metrics),
		Tracker:       a.tracking,
		Metrics:       a.metrics,
	}
	var mirrorHealth handler.MirrorHealth
	if mirror != nil {
		deps.Mirror = mirror
		mirrorHealth = mirror
	}
	pipeline := relay.NewPipeline(deps)

	spawner := worker.NewSpawner(context.WithoutCancel(ctx))
	errCtx, stopErrors := context.WithCancel(ctx)
	defer stopErrors()
	go spawner.LogErrors(errCtx)

	scheduler := a.scheduler()
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	var posts *poller.Poller
	if blogAdapter != nil {
		posts = poller.New(poller.Config{
			Interval:  cfg.Poller.Interval,
			MaxMisses: cfg.Poller.MaxMisses,
		}, a.tracking, a.blogger, blogAdapter, a.subs, renderer, messenger, a.metrics)
		if err := posts.Start(ctx); err != nil {
			return err
		}
	}

	router := handler.NewRouter(handler.RouterConfig{
		SiteVerification: cfg.Server.SiteVerification,
		MetricsAPIKeys:   cfg.Server.MetricsAPIKeys,
	},
		handler.NewCallbackHandler(pipeline, spawner, a.metrics, cfg.Server.MaxPayloadSize),
		handler.NewHealthHandler(a.pool, mirrorHealth),
		a.metrics,
		logger.Named("http"),
	)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Log.Info("Server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("publicUrl", cfg.Server.PublicURL),
			zap.Int("adapters", len(adapters)),
		)
		serverErrors <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Graceful shutdown failed", zap.Error(err))
		_ = server.Close()
	}
	if err := spawner.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("Callback tasks did not finish before shutdown", zap.Error(err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Log.Warn("Renewal scheduler did not stop cleanly", zap.Error(err))
	}
	if posts != nil {
		if err := posts.Stop(shutdownCtx); err != nil {
			logger.Log.Warn("Post poller did not stop cleanly", zap.Error(err))
		}
	}

	logger.Log.Info("Server stopped")
	return runErr
}
