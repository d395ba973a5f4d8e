package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/internal/config"
	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/pkg/logger"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd() *cobra.Command {
	var (
		dbURL string
		steps int
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Long:  "Apply the embedded schema migrations. A positive --steps applies that many up migrations, a negative one rolls back.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbURL == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
					return fmt.Errorf("failed to initialize logger: %w", err)
				}
				dbURL = cfg.Database.URL()
			}
			defer func() { _ = logger.Sync() }()

			return runMigrations(dbURL, steps)
		},
	}

	cmd.Flags().StringVar(&dbURL, "db", "", "database URL (defaults to the configured database)")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply, 0 applies all")
	return cmd
}

func runMigrations(dbURL string, steps int) error {
	if dbURL == "" {
		return errors.New("database URL is required")
	}

	res, err := db.Migrate(dbURL, steps)
	if err != nil {
		return err
	}

	logger.L().Info("Migrations applied",
		zap.Uint("version", res.Version),
		zap.Bool("dirty", res.Dirty),
		zap.Bool("changed", res.Changed),
	)
	return nil
}
