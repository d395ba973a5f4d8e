package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/internal/models"
)

// SubscriptionRepository defines operations for managing destination subscriptions.
type SubscriptionRepository interface {
	// Create creates a new subscription.
	Create(ctx context.Context, sub *models.Subscription) error

	// GetByID retrieves a subscription by ID.
	GetByID(ctx context.Context, id int64) (*models.Subscription, error)

	// ListByChannel retrieves all subscriptions for a channel, oldest first.
	ListByChannel(ctx context.Context, kind models.SourceKind, channelID string) ([]*models.Subscription, error)

	// DistinctChannels lists every channel id with at least one subscription.
	DistinctChannels(ctx context.Context, kind models.SourceKind) ([]string, error)

	// Delete deletes a subscription by ID, along with the channel state when it
	// was the channel's last subscription and the destination's post tracking.
	Delete(ctx context.Context, id int64) error
}

type subscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepository{pool: pool}
}

const subscriptionColumns = `id, destination_id, guild_id, source_kind, channel_id,
	only_livestreams, categories, catch_all, keywords, created_at`

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			destination_id, guild_id, source_kind, channel_id,
			only_livestreams, categories, catch_all, keywords
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		sub.DestinationID,
		sub.GuildID,
		string(sub.SourceKind),
		sub.ChannelID,
		sub.Filters.OnlyLivestreams,
		nonNil(sub.Filters.Categories),
		sub.Filters.CatchAll,
		nonNil(sub.Filters.Keywords),
	).Scan(
		&sub.ID,
		&sub.CreatedAt,
	)

	if err != nil {
		return db.WrapError(err, "create subscription")
	}

	return nil
}

func (r *subscriptionRepository) GetByID(ctx context.Context, id int64) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, db.WrapError(err, "get subscription by id")
	}

	return sub, nil
}

func (r *subscriptionRepository) ListByChannel(ctx context.Context, kind models.SourceKind, channelID string) ([]*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE source_kind = $1 AND channel_id = $2
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, string(kind), channelID)
	if err != nil {
		return nil, db.WrapError(err, "list subscriptions by channel")
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan subscription")
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate subscriptions")
	}

	return subs, nil
}

func (r *subscriptionRepository) DistinctChannels(ctx context.Context, kind models.SourceKind) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT channel_id
		FROM subscriptions
		WHERE source_kind = $1
		ORDER BY channel_id
	`, string(kind))
	if err != nil {
		return nil, db.WrapError(err, "list distinct channels")
	}

	channels, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, db.WrapError(err, "scan distinct channels")
	}

	return channels, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return db.WrapError(err, "begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		destinationID string
		kind          string
		channelID     string
	)
	err = tx.QueryRow(ctx, `
		DELETE FROM subscriptions
		WHERE id = $1
		RETURNING destination_id, source_kind, channel_id
	`, id).Scan(&destinationID, &kind, &channelID)
	if err != nil {
		return db.WrapError(err, "delete subscription")
	}

	if models.SourceKind(kind) == models.SourceBlogPost {
		_, err = tx.Exec(ctx, `
			DELETE FROM post_tracking WHERE destination_id = $1 AND blog_id = $2
		`, destinationID, channelID)
		if err != nil {
			return db.WrapError(err, "delete post tracking")
		}
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM channel_states cs
		WHERE cs.source_kind = $1 AND cs.channel_id = $2
		  AND NOT EXISTS (
		      SELECT 1 FROM subscriptions s
		      WHERE s.source_kind = cs.source_kind AND s.channel_id = cs.channel_id
		  )
	`, kind, channelID)
	if err != nil {
		return db.WrapError(err, "delete orphaned channel state")
	}

	if err := tx.Commit(ctx); err != nil {
		return db.WrapError(err, "commit subscription delete")
	}

	return nil
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		sub  models.Subscription
		kind string
	)
	err := row.Scan(
		&sub.ID,
		&sub.DestinationID,
		&sub.GuildID,
		&kind,
		&sub.ChannelID,
		&sub.Filters.OnlyLivestreams,
		&sub.Filters.Categories,
		&sub.Filters.CatchAll,
		&sub.Filters.Keywords,
		&sub.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.SourceKind = models.SourceKind(kind)
	return &sub, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
