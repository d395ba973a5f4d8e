package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/internal/models"
)

// PostTrackingRepository tracks the last blog post delivered to each destination.
type PostTrackingRepository interface {
	// Upsert records a fresh delivery, resetting the edit and miss counters.
	Upsert(ctx context.Context, rec *models.PostTrackingRecord) error

	// Get retrieves the record of one destination.
	Get(ctx context.Context, destinationID, blogID string) (*models.PostTrackingRecord, error)

	// ListActive lists records that still reference a delivered post.
	ListActive(ctx context.Context) ([]*models.PostTrackingRecord, error)

	// RecordEdit stores the new update time after an edit and increments update_count.
	RecordEdit(ctx context.Context, destinationID, blogID string, updatedAt time.Time) error

	// RecordMiss increments miss_count; once it reaches a positive maxMisses the record stops
	// referencing its post. It returns the new miss count.
	RecordMiss(ctx context.Context, destinationID, blogID string, maxMisses int) (int, error)
}

type postTrackingRepository struct {
	pool *pgxpool.Pool
}

// NewPostTrackingRepository creates a new PostTrackingRepository.
func NewPostTrackingRepository(pool *pgxpool.Pool) PostTrackingRepository {
	return &postTrackingRepository{pool: pool}
}

const postTrackingColumns = `destination_id, blog_id, last_post_id, last_updated_at, update_count,
	message_channel_id, message_id, miss_count, updated_at`

func (r *postTrackingRepository) Upsert(ctx context.Context, rec *models.PostTrackingRecord) error {
	query := `
		INSERT INTO post_tracking (
			destination_id, blog_id, last_post_id, last_updated_at, update_count,
			message_channel_id, message_id, miss_count, updated_at
		)
		VALUES ($1, $2, $3, $4, 0, $5, $6, 0, NOW())
		ON CONFLICT (destination_id, blog_id) DO UPDATE SET
			last_post_id = EXCLUDED.last_post_id,
			last_updated_at = EXCLUDED.last_updated_at,
			update_count = 0,
			message_channel_id = EXCLUDED.message_channel_id,
			message_id = EXCLUDED.message_id,
			miss_count = 0,
			updated_at = NOW()
		RETURNING update_count, miss_count, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		rec.DestinationID,
		rec.BlogID,
		rec.LastPostID,
		nullableTime(rec.LastUpdatedAt),
		rec.DeliveredMessageRef.ChannelID,
		rec.DeliveredMessageRef.MessageID,
	).Scan(
		&rec.UpdateCount,
		&rec.MissCount,
		&rec.UpdatedAt,
	)

	if err != nil {
		return db.WrapError(err, "upsert post tracking")
	}

	return nil
}

func (r *postTrackingRepository) Get(ctx context.Context, destinationID, blogID string) (*models.PostTrackingRecord, error) {
	query := `SELECT ` + postTrackingColumns + ` FROM post_tracking WHERE destination_id = $1 AND blog_id = $2`

	rec, err := scanPostTracking(r.pool.QueryRow(ctx, query, destinationID, blogID))
	if err != nil {
		return nil, db.WrapError(err, "get post tracking")
	}

	return rec, nil
}

func (r *postTrackingRepository) ListActive(ctx context.Context) ([]*models.PostTrackingRecord, error) {
	query := `
		SELECT ` + postTrackingColumns + `
		FROM post_tracking
		WHERE last_post_id <> '' AND message_id <> ''
		ORDER BY blog_id, last_post_id, destination_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, db.WrapError(err, "list active post tracking")
	}
	defer rows.Close()

	var records []*models.PostTrackingRecord
	for rows.Next() {
		rec, err := scanPostTracking(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan post tracking")
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate post tracking")
	}

	return records, nil
}

func (r *postTrackingRepository) RecordEdit(ctx context.Context, destinationID, blogID string, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE post_tracking
		SET last_updated_at = $3,
		    update_count = update_count + 1,
		    miss_count = 0,
		    updated_at = NOW()
		WHERE destination_id = $1 AND blog_id = $2
	`, destinationID, blogID, updatedAt)
	if err != nil {
		return db.WrapError(err, "record post edit")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "record post edit")
	}
	return nil
}

func (r *postTrackingRepository) RecordMiss(ctx context.Context, destinationID, blogID string, maxMisses int) (int, error) {
	var misses int
	err := r.pool.QueryRow(ctx, `
		UPDATE post_tracking
		SET miss_count = miss_count + 1,
		    last_post_id = CASE WHEN $3 > 0 AND miss_count + 1 >= $3 THEN '' ELSE last_post_id END,
		    updated_at = NOW()
		WHERE destination_id = $1 AND blog_id = $2
		RETURNING miss_count
	`, destinationID, blogID, maxMisses).Scan(&misses)
	if err != nil {
		return 0, db.WrapError(err, "record post miss")
	}
	return misses, nil
}

func scanPostTracking(row pgx.Row) (*models.PostTrackingRecord, error) {
	var (
		rec           models.PostTrackingRecord
		lastUpdatedAt *time.Time
	)
	err := row.Scan(
		&rec.DestinationID,
		&rec.BlogID,
		&rec.LastPostID,
		&lastUpdatedAt,
		&rec.UpdateCount,
		&rec.DeliveredMessageRef.ChannelID,
		&rec.DeliveredMessageRef.MessageID,
		&rec.MissCount,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastUpdatedAt != nil {
		rec.LastUpdatedAt = lastUpdatedAt.UTC()
	}
	return &rec, nil
}
