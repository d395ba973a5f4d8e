package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightrelay/notification-relay/internal/models"
)

func count(n int64) *int64 { return &n }

func videoEvent(itemID string, itemCount int64) *models.NotificationEvent {
	return &models.NotificationEvent{
		SourceKind: models.SourceVideo,
		Kind:       models.KindNewItem,
		ChannelID:  "UCchannel",
		ItemID:     itemID,
		ItemCount:  count(itemCount),
	}
}

func TestDecide_VideoNewItem(t *testing.T) {
	t.Parallel()

	stored := models.ChannelState{LastItemID: "A", ItemCount: 5}
	now := time.Now()

	tests := []struct {
		name       string
		itemID     string
		itemCount  int64
		wantAccept bool
	}{
		{"new id same count is an edit", "B", 5, false},
		{"same id higher count is an edit", "A", 6, false},
		{"new id higher count is new", "B", 6, true},
		{"new id lower count is an edit", "B", 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := Decide(stored, videoEvent(tt.itemID, tt.itemCount), now)
			assert.Equal(t, tt.wantAccept, d.Accepted)
			assert.Equal(t, tt.wantAccept, d.FanOut)
			if tt.wantAccept {
				assert.Equal(t, tt.itemID, d.State.LastItemID)
				assert.Equal(t, tt.itemCount, d.State.ItemCount)
				assert.True(t, d.Mutated)
			} else {
				assert.Equal(t, ReasonEdit, d.Reason)
				assert.Equal(t, stored, d.State)
			}
		})
	}
}

func TestDecide_VideoNewItemWithoutCount(t *testing.T) {
	t.Parallel()

	ev := videoEvent("B", 0)
	ev.ItemCount = nil

	d := Decide(models.ChannelState{LastItemID: "A", ItemCount: 5}, ev, time.Now())
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonEdit, d.Reason)
}

func TestDecide_LiveStart(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	ev := &models.NotificationEvent{SourceKind: models.SourceLivestream, Kind: models.KindLiveStart, ChannelID: "42"}

	t.Run("first live is accepted", func(t *testing.T) {
		d := Decide(models.ChannelState{}, ev, now)
		assert.True(t, d.Accepted)
		assert.True(t, d.FanOut)
		assert.Equal(t, now, d.State.LastLiveAt)
	})

	t.Run("restart within the hour is rejected", func(t *testing.T) {
		d := Decide(models.ChannelState{LastLiveAt: now.Add(-59 * time.Minute)}, ev, now)
		assert.False(t, d.Accepted)
		assert.Equal(t, ReasonStreamRestart, d.Reason)
	})

	t.Run("exactly one hour is rejected", func(t *testing.T) {
		d := Decide(models.ChannelState{LastLiveAt: now.Add(-time.Hour)}, ev, now)
		assert.False(t, d.Accepted)
	})

	t.Run("after the hour is accepted", func(t *testing.T) {
		d := Decide(models.ChannelState{LastLiveAt: now.Add(-61 * time.Minute)}, ev, now)
		assert.True(t, d.Accepted)
		assert.Equal(t, now, d.State.LastLiveAt)
	})

	t.Run("clock behind stored value never moves it back", func(t *testing.T) {
		stored := models.ChannelState{LastLiveAt: now.Add(2 * time.Hour)}
		d := Decide(stored, ev, now)
		assert.False(t, d.Accepted)
		assert.Equal(t, stored.LastLiveAt, d.State.LastLiveAt)
	})
}

func TestDecide_LastLiveAtNonDecreasing(t *testing.T) {
	t.Parallel()

	ev := &models.NotificationEvent{SourceKind: models.SourceVideo, Kind: models.KindLiveStart}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	offsets := []time.Duration{0, 10 * time.Minute, 3 * time.Hour, 2 * time.Hour, 90 * time.Minute, 6 * time.Hour, 5 * time.Hour}

	state := models.ChannelState{}
	for _, off := range offsets {
		prev := state.LastLiveAt
		d := Decide(state, ev, base.Add(off))
		if d.Mutated {
			state = d.State
		}
		assert.False(t, state.LastLiveAt.Before(prev), "lastLiveAt moved backwards at offset %s", off)
	}
	assert.Equal(t, base.Add(6*time.Hour), state.LastLiveAt)
}

func TestDecide_Deletion(t *testing.T) {
	t.Parallel()

	stored := models.ChannelState{LastItemID: "A", ItemCount: 5}

	d := Decide(stored, &models.NotificationEvent{SourceKind: models.SourceVideo, Kind: models.KindDeletion, ItemCount: count(4)}, time.Now())
	assert.True(t, d.Accepted)
	assert.False(t, d.FanOut)
	assert.True(t, d.Mutated)
	assert.Equal(t, int64(4), d.State.ItemCount)
	assert.Equal(t, "A", d.State.LastItemID)

	d = Decide(stored, &models.NotificationEvent{SourceKind: models.SourceLivestream, Kind: models.KindDeletion}, time.Now())
	assert.True(t, d.Accepted)
	assert.False(t, d.FanOut)
	assert.False(t, d.Mutated)
}

func TestDecide_BlogPost(t *testing.T) {
	t.Parallel()

	d := Decide(models.ChannelState{}, &models.NotificationEvent{SourceKind: models.SourceBlogPost, Kind: models.KindNewItem}, time.Now())
	assert.True(t, d.Accepted)
	assert.True(t, d.FanOut)
	assert.False(t, d.Mutated)
}

func TestDecide_Unsupported(t *testing.T) {
	t.Parallel()

	d := Decide(models.ChannelState{}, &models.NotificationEvent{SourceKind: models.SourceLivestream, Kind: models.KindNewItem}, time.Now())
	assert.False(t, d.Accepted)
	assert.Equal(t, ReasonUnsupported, d.Reason)
}

func TestEngine_LiveStartIdempotence(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	engine := NewEngine(store)
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	ev := &models.NotificationEvent{SourceKind: models.SourceLivestream, Kind: models.KindLiveStart, ChannelID: "42"}

	first, err := engine.Accept(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, first.FanOut)

	now = now.Add(20 * time.Minute)
	second, err := engine.Accept(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, second.FanOut)
	assert.Equal(t, ReasonStreamRestart, second.Reason)

	st, ok := store.Get(models.SourceLivestream, "42")
	require.True(t, ok)
	assert.Equal(t, now.Add(-20*time.Minute), st.LastLiveAt)
}

func TestEngine_ConcurrentNewItem(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(models.ChannelState{SourceKind: models.SourceVideo, ChannelID: "UCchannel", LastItemID: "A", ItemCount: 5})
	engine := NewEngine(store)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := engine.Accept(context.Background(), videoEvent("B", 6))
			if err == nil && d.FanOut {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	st, _ := store.Get(models.SourceVideo, "UCchannel")
	assert.Equal(t, "B", st.LastItemID)
	assert.Equal(t, int64(6), st.ItemCount)
}

type conflictStore struct{}

func (conflictStore) Update(context.Context, models.SourceKind, string, UpdateFunc) error {
	return models.ErrStateConflict
}

type failingStore struct{}

func (failingStore) Update(context.Context, models.SourceKind, string, UpdateFunc) error {
	return errors.New("connection reset")
}

func TestEngine_StoreErrors(t *testing.T) {
	t.Parallel()

	d, err := NewEngine(conflictStore{}).Accept(context.Background(), videoEvent("B", 6))
	require.NoError(t, err)
	assert.False(t, d.FanOut)
	assert.Equal(t, ReasonConflict, d.Reason)

	_, err = NewEngine(failingStore{}).Accept(context.Background(), videoEvent("B", 6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update channel state")
}

func TestEngine_BlogBypassesStore(t *testing.T) {
	t.Parallel()

	d, err := NewEngine(failingStore{}).Accept(context.Background(),
		&models.NotificationEvent{SourceKind: models.SourceBlogPost, Kind: models.KindNewItem})
	require.NoError(t, err)
	assert.True(t, d.FanOut)
}

func TestEngine_StreamOfflineSkipsStore(t *testing.T) {
	t.Parallel()

	d, err := NewEngine(failingStore{}).Accept(context.Background(),
		&models.NotificationEvent{SourceKind: models.SourceLivestream, Kind: models.KindDeletion})
	require.NoError(t, err)
	assert.True(t, d.Accepted)
	assert.False(t, d.FanOut)
	assert.False(t, d.Mutated)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(models.ChannelState{SourceKind: models.SourceVideo, ChannelID: "c"})
	store.Delete(models.SourceVideo, "c")

	_, ok := store.Get(models.SourceVideo, "c")
	assert.False(t, ok)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemoryStore().Update(ctx, models.SourceVideo, "c", func(s models.ChannelState) (models.ChannelState, bool, error) {
		return s, true, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
