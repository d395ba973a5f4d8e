//go:build integration
// +build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/internal/db/testutil"
	"github.com/lightrelay/notification-relay/internal/models"
)

func TestPostTrackingRepository(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repo := NewPostTrackingRepository(td.Pool)
	ctx := context.Background()
	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	deliver := func(t *testing.T, postID string) {
		t.Helper()
		err := repo.Upsert(ctx, &models.PostTrackingRecord{
			DestinationID:       "dest-1",
			BlogID:              "814",
			LastPostID:          postID,
			LastUpdatedAt:       published,
			DeliveredMessageRef: models.MessageRef{ChannelID: "dest-1", MessageID: "m-" + postID},
		})
		require.NoError(t, err)
	}

	t.Run("edit increments update count", func(t *testing.T) {
		td.TruncateTables(t)
		deliver(t, "123")

		edited := published.Add(time.Hour)
		require.NoError(t, repo.RecordEdit(ctx, "dest-1", "814", edited))
		require.NoError(t, repo.RecordEdit(ctx, "dest-1", "814", edited.Add(time.Hour)))

		rec, err := repo.Get(ctx, "dest-1", "814")
		require.NoError(t, err)
		assert.Equal(t, 2, rec.UpdateCount)
		assert.True(t, edited.Add(time.Hour).Equal(rec.LastUpdatedAt))
		assert.Equal(t, "m-123", rec.DeliveredMessageRef.MessageID)
	})

	t.Run("new delivery resets counters", func(t *testing.T) {
		td.TruncateTables(t)
		deliver(t, "123")
		require.NoError(t, repo.RecordEdit(ctx, "dest-1", "814", published.Add(time.Hour)))

		deliver(t, "124")

		rec, err := repo.Get(ctx, "dest-1", "814")
		require.NoError(t, err)
		assert.Equal(t, "124", rec.LastPostID)
		assert.Equal(t, 0, rec.UpdateCount)
		assert.Equal(t, "m-124", rec.DeliveredMessageRef.MessageID)
	})

	t.Run("misses expire the record after the limit", func(t *testing.T) {
		td.TruncateTables(t)
		deliver(t, "123")

		misses, err := repo.RecordMiss(ctx, "dest-1", "814", 2)
		require.NoError(t, err)
		assert.Equal(t, 1, misses)

		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)

		misses, err = repo.RecordMiss(ctx, "dest-1", "814", 2)
		require.NoError(t, err)
		assert.Equal(t, 2, misses)

		active, err = repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)

		rec, err := repo.Get(ctx, "dest-1", "814")
		require.NoError(t, err)
		assert.Empty(t, rec.LastPostID)
	})

	t.Run("non-positive limit never expires", func(t *testing.T) {
		td.TruncateTables(t)
		deliver(t, "123")

		for i := 1; i <= 3; i++ {
			misses, err := repo.RecordMiss(ctx, "dest-1", "814", 0)
			require.NoError(t, err)
			assert.Equal(t, i, misses)
		}

		active, err := repo.ListActive(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("edit of unknown record is not found", func(t *testing.T) {
		td.TruncateTables(t)

		err := repo.RecordEdit(ctx, "nobody", "814", published)
		assert.True(t, db.IsNotFound(err))
	})
}
