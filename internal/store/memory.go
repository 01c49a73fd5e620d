package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps takes for the life of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	takes map[uuid.UUID]TakeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{takes: make(map[uuid.UUID]TakeRecord)}
}

func (s *MemoryStore) SaveTake(ctx context.Context, rec TakeRecord) (TakeRecord, error) {
	rec = prepare(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.takes[rec.ID] = rec
	return rec, nil
}

func (s *MemoryStore) GetTake(ctx context.Context, id uuid.UUID) (TakeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.takes[id]
	if !ok {
		return TakeRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListTakes(ctx context.Context, limit int) ([]TakeRecord, error) {
	s.mu.RLock()
	list := make([]TakeRecord, 0, len(s.takes))
	for _, rec := range s.takes {
		list = append(list, rec)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
