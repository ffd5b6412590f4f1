package storage

import (
	"context"
	"sync"

	"noesis/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	snapshots   map[string][]model.Snapshot
	events      map[string][]model.SingularityEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.snapshots = make(map[string][]model.Snapshot)
	s.events = make(map[string][]model.SingularityEvent)
	return nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, runID string, snapshot model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[runID] = append(s.snapshots[runID], Stamp(snapshot))
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, runID string) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[runID]
	if len(history) == 0 {
		return model.Snapshot{}, false, nil
	}
	return history[len(history)-1], true, nil
}

func (s *MemoryStore) ListSnapshots(_ context.Context, runID string, limit int) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.snapshots[runID]
	out := make([]model.Snapshot, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, history[i])
	}
	return out, nil
}

func (s *MemoryStore) SaveEvents(_ context.Context, runID string, events []model.SingularityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[runID] = append([]model.SingularityEvent(nil), events...)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, runID string) ([]model.SingularityEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.events[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.SingularityEvent(nil), events...), true, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	return s.Init(ctx)
}
