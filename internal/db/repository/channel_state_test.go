//go:build integration
// +build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightrelay/notification-relay/internal/db"
	"github.com/lightrelay/notification-relay/internal/db/testutil"
	"github.com/lightrelay/notification-relay/internal/dedup"
	"github.com/lightrelay/notification-relay/internal/models"
)

func TestChannelStateRepository_Update(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repo := NewChannelStateRepository(td.Pool)
	ctx := context.Background()

	t.Run("creates state on first use and persists writes", func(t *testing.T) {
		td.TruncateTables(t)

		liveAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		err := repo.Update(ctx, models.SourceVideo, "UC1", func(current models.ChannelState) (models.ChannelState, bool, error) {
			assert.Empty(t, current.LastItemID)
			assert.True(t, current.LastLiveAt.IsZero())
			current.LastItemID = "vid1"
			current.ItemCount = 5
			current.LastLiveAt = liveAt
			return current, true, nil
		})
		require.NoError(t, err)

		state, err := repo.Get(ctx, models.SourceVideo, "UC1")
		require.NoError(t, err)
		assert.Equal(t, "vid1", state.LastItemID)
		assert.Equal(t, int64(5), state.ItemCount)
		assert.True(t, liveAt.Equal(state.LastLiveAt))
	})

	t.Run("skips write when not requested", func(t *testing.T) {
		td.TruncateTables(t)

		err := repo.Update(ctx, models.SourceVideo, "UC1", func(current models.ChannelState) (models.ChannelState, bool, error) {
			current.LastItemID = "ignored"
			return current, false, nil
		})
		require.NoError(t, err)

		state, err := repo.Get(ctx, models.SourceVideo, "UC1")
		require.NoError(t, err)
		assert.Empty(t, state.LastItemID)
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		td.TruncateTables(t)

		boom := errors.New("boom")
		err := repo.Update(ctx, models.SourceVideo, "UC1", func(current models.ChannelState) (models.ChannelState, bool, error) {
			return current, true, boom
		})
		require.ErrorIs(t, err, boom)

		_, err = repo.Get(ctx, models.SourceVideo, "UC1")
		assert.True(t, db.IsNotFound(err))
	})
}

func TestChannelStateRepository_ConcurrentAccept(t *testing.T) {
	td := testutil.SetupTestDatabase(t)
	defer td.Cleanup(t)

	repo := NewChannelStateRepository(td.Pool)
	engine := dedup.NewEngine(repo)
	ctx := context.Background()

	count := int64(6)
	event := &models.NotificationEvent{
		SourceKind: models.SourceVideo,
		Kind:       models.KindNewItem,
		ChannelID:  "UC1",
		ItemID:     "vid2",
		ItemCount:  &count,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := engine.Accept(ctx, event)
			assert.NoError(t, err)
			if d.FanOut {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)

	state, err := repo.Get(ctx, models.SourceVideo, "UC1")
	require.NoError(t, err)
	assert.Equal(t, "vid2", state.LastItemID)
	assert.Equal(t, int64(6), state.ItemCount)
}
