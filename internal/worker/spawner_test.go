package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawner_ReportsErrors(t *testing.T) {
	t.Parallel()

	s := NewSpawner(context.Background())
	require.True(t, s.Go("failing", func(ctx context.Context) error {
		return errors.New("boom")
	}))

	select {
	case te := <-s.Errors():
		assert.Equal(t, "failing", te.Name)
		assert.False(t, te.Panic)
		assert.EqualError(t, te, "task failing: boom")
	case <-time.After(time.Second):
		t.Fatal("expected task error")
	}

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestSpawner_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := NewSpawner(context.Background())
	s.Go("panicky", func(ctx context.Context) error {
		panic("nil map")
	})

	select {
	case te := <-s.Errors():
		assert.True(t, te.Panic)
		assert.Contains(t, te.Error(), "nil map")
	case <-time.After(time.Second):
		t.Fatal("expected panic report")
	}
}

func TestSpawner_ShutdownWaitsForTasks(t *testing.T) {
	t.Parallel()

	s := NewSpawner(context.Background())
	finished := make(chan struct{})
	s.Go("slow", func(ctx context.Context) error {
		time.Sleep(50 * time.Millisecond)
		close(finished)
		return nil
	})

	require.NoError(t, s.Shutdown(context.Background()))
	select {
	case <-finished:
	default:
		t.Fatal("shutdown returned before task finished")
	}

	assert.False(t, s.Go("late", func(ctx context.Context) error { return nil }))
	assert.Equal(t, int64(0), s.Active())
}

func TestSpawner_ShutdownDeadlineCancelsTasks(t *testing.T) {
	t.Parallel()

	s := NewSpawner(context.Background())
	s.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpawner_DropsWhenSinkFull(t *testing.T) {
	t.Parallel()

	s := NewSpawner(context.Background())
	for i := 0; i < defaultSinkSize+5; i++ {
		s.Go("f", func(ctx context.Context) error { return errors.New("x") })
	}
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, uint64(5), s.Dropped())
}

func TestSpawner_LogErrorsStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := NewSpawner(context.Background())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.LogErrors(ctx)
		close(done)
	}()

	s.Go("f", func(ctx context.Context) error { return errors.New("x") })
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LogErrors did not return")
	}
}
