// Package db opens the relay's Postgres pool, applies its embedded schema and maps
// driver errors onto the store's sentinel errors.
package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// applicationName tags relay sessions in pg_stat_activity.
const applicationName = "notification-relay"

// Config holds the database connection and pool settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// MaxConns bounds concurrent transactions. Every callback task holds at most one
	// connection at a time (its channel state transaction), and the renewal and
	// post-update jobs each hold one more.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// LockTimeout caps how long a channel state update waits for the row lock held by
	// a concurrent callback. Expiry surfaces as ErrSerialization. Zero means no limit.
	LockTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "relay",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		LockTimeout:     5 * time.Second,
	}
}

// ConnString returns cfg as a postgres URL. Credentials are escaped.
func (cfg *Config) ConnString() string {
	q := url.Values{}
	q.Set("sslmode", cfg.SSLMode)
	q.Set("application_name", applicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// poolConfig builds the pgxpool settings for cfg.
func poolConfig(cfg *Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime

	if cfg.LockTimeout > 0 {
		pc.ConnConfig.RuntimeParams["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}
	return pc, nil
}

// NewPool creates the connection pool and verifies the database is reachable.
func NewPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
