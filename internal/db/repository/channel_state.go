package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/internal/dedup"
	"github.com/lightrelay/notification-relay/internal/models"
)

// ChannelStateRepository persists per-channel dedup state.
type ChannelStateRepository interface {
	dedup.StateStore

	// Get retrieves the state of one channel.
	Get(ctx context.Context, kind models.SourceKind, channelID string) (*models.ChannelState, error)

	// Delete removes the state of one channel.
	Delete(ctx context.Context, kind models.SourceKind, channelID string) error
}

type channelStateRepository struct {
	pool *pgxpool.Pool
}

// NewChannelStateRepository creates a new ChannelStateRepository.
func NewChannelStateRepository(pool *pgxpool.Pool) ChannelStateRepository {
	return &channelStateRepository{pool: pool}
}

// Update runs fn under a row lock on the channel. The row is created on first use.
// Lock and serialization failures surface as models.ErrStateConflict.
func (r *channelStateRepository) Update(ctx context.Context, kind models.SourceKind, channelID string, fn dedup.UpdateFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return db.WrapError(err, "begin transaction")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO channel_states (source_kind, channel_id)
		VALUES ($1, $2)
		ON CONFLICT (source_kind, channel_id) DO NOTHING
	`, string(kind), channelID)
	if err != nil {
		return conflictOr(db.WrapError(err, "ensure channel state"))
	}

	current, err := scanChannelState(tx.QueryRow(ctx, `
		SELECT source_kind, channel_id, last_item_id, last_live_at, item_count, updated_at
		FROM channel_states
		WHERE source_kind = $1 AND channel_id = $2
		FOR UPDATE
	`, string(kind), channelID))
	if err != nil {
		return conflictOr(db.WrapError(err, "lock channel state"))
	}

	next, write, err := fn(*current)
	if err != nil {
		return err
	}

	if write {
		_, err = tx.Exec(ctx, `
			UPDATE channel_states
			SET last_item_id = $3,
			    last_live_at = $4,
			    item_count = $5,
			    updated_at = $6
			WHERE source_kind = $1 AND channel_id = $2
		`, string(kind), channelID, next.LastItemID, nullableTime(next.LastLiveAt), next.ItemCount, updatedAt(next.UpdatedAt))
		if err != nil {
			return conflictOr(db.WrapError(err, "update channel state"))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return conflictOr(db.WrapError(err, "commit channel state"))
	}

	return nil
}

func (r *channelStateRepository) Get(ctx context.Context, kind models.SourceKind, channelID string) (*models.ChannelState, error) {
	state, err := scanChannelState(r.pool.QueryRow(ctx, `
		SELECT source_kind, channel_id, last_item_id, last_live_at, item_count, updated_at
		FROM channel_states
		WHERE source_kind = $1 AND channel_id = $2
	`, string(kind), channelID))
	if err != nil {
		return nil, db.WrapError(err, "get channel state")
	}
	return state, nil
}

func (r *channelStateRepository) Delete(ctx context.Context, kind models.SourceKind, channelID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM channel_states WHERE source_kind = $1 AND channel_id = $2`, string(kind), channelID)
	if err != nil {
		return db.WrapError(err, "delete channel state")
	}
	return nil
}

func scanChannelState(row pgx.Row) (*models.ChannelState, error) {
	var (
		state      models.ChannelState
		kind       string
		lastLiveAt *time.Time
	)
	err := row.Scan(
		&kind,
		&state.ChannelID,
		&state.LastItemID,
		&lastLiveAt,
		&state.ItemCount,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	state.SourceKind = models.SourceKind(kind)
	if lastLiveAt != nil {
		state.LastLiveAt = lastLiveAt.UTC()
	}
	return &state, nil
}

func conflictOr(err error) error {
	if db.IsSerialization(err) {
		return models.ErrStateConflict
	}
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
