package dedup

import (
	"context"
	"sync"

	"github.com/lightrelay/notification-relay/internal/models"
)

type stateKey struct {
	kind      models.SourceKind
	channelID string
}

// MemoryStore is an in-process StateStore with one lock per channel key.
type MemoryStore struct {
	mu     sync.Mutex
	locks  map[stateKey]*sync.Mutex
	states map[stateKey]models.ChannelState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:  make(map[stateKey]*sync.Mutex),
		states: make(map[stateKey]models.ChannelState),
	}
}

// Update implements StateStore.
func (s *MemoryStore) Update(ctx context.Context, kind models.SourceKind, channelID string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k := stateKey{kind: kind, channelID: channelID}
	lock := s.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current, ok := s.states[k]
	s.mu.Unlock()
	if !ok {
		current = models.ChannelState{SourceKind: kind, ChannelID: channelID}
	}

	next, write, err := fn(current)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}

	next.SourceKind = kind
	next.ChannelID = channelID
	s.mu.Lock()
	s.states[k] = next
	s.mu.Unlock()
	return nil
}

// Get returns the stored state for a channel.
func (s *MemoryStore) Get(kind models.SourceKind, channelID string) (models.ChannelState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey{kind: kind, channelID: channelID}]
	return st, ok
}

// Put seeds the stored state for a channel.
func (s *MemoryStore) Put(state models.ChannelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey{kind: state.SourceKind, channelID: state.ChannelID}] = state
}

// Delete removes the stored state for a channel.
func (s *MemoryStore) Delete(kind models.SourceKind, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey{kind: kind, channelID: channelID}
	delete(s.states, k)
}

func (s *MemoryStore) keyLock(k stateKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}
