// Package worker runs detached tasks with panic recovery and a supervisory error sink.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lightrelay/notification-relay/pkg/logger"
)

const defaultSinkSize = 256

// TaskError is reported to the sink when a task fails or panics.
type TaskError struct {
	Name  string
	Err   error
	Panic bool
}

func (e TaskError) Error() string {
	if e.Panic {
		return fmt.Sprintf("task %s panicked: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("task %s: %v", e.Name, e.Err)
}

// Spawner starts fire-and-forget tasks tied to a shared base context.
// Failures never propagate to the caller; they are sent to Errors().
type Spawner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan TaskError

	mu     sync.RWMutex
	closed bool

	active  atomic.Int64
	dropped atomic.Uint64
}

// NewSpawner creates a Spawner whose tasks derive from parent.
func NewSpawner(parent context.Context) *Spawner {
	ctx, cancel := context.WithCancel(parent)
	return &Spawner{
		ctx:    ctx,
		cancel: cancel,
		errs:   make(chan TaskError, defaultSinkSize),
	}
}

// Go runs fn in its own goroutine. It returns false when the spawner is shut down.
func (s *Spawner) Go(name string, fn func(ctx context.Context) error) bool {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if p := recover(); p != nil {
				logger.L().Error("Task panicked",
					zap.String("task", name),
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()),
				)
				s.report(TaskError{Name: name, Err: fmt.Errorf("%v", p), Panic: true})
			}
		}()

		if err := fn(s.ctx); err != nil {
			s.report(TaskError{Name: name, Err: err})
		}
	}()
	return true
}

// Errors is the supervisory sink. Reports are dropped when nobody drains it.
func (s *Spawner) Errors() <-chan TaskError {
	return s.errs
}

// Active returns the number of running tasks.
func (s *Spawner) Active() int64 {
	return s.active.Load()
}

// Dropped returns the number of reports lost because the sink was full.
func (s *Spawner) Dropped() uint64 {
	return s.dropped.Load()
}

// LogErrors drains the sink into the logger until ctx is done.
func (s *Spawner) LogErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case te := <-s.errs:
			logger.L().Error("Background task failed",
				zap.String("task", te.Name),
				zap.Bool("panic", te.Panic),
				zap.Error(te.Err),
			)
		}
	}
}

// Shutdown stops accepting tasks and waits for running ones until ctx expires,
// after which the base context is canceled.
func (s *Spawner) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("tasks still running at shutdown deadline: %w", ctx.Err())
	}
}

func (s *Spawner) report(te TaskError) {
	select {
	case s.errs <- te:
	default:
		s.dropped.Add(1)
	}
}
