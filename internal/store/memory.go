package store

import (
	"context"
	"sync"

	"github.com/raincheck/rainline/internal/model"
)

// MemoryStore implements Store with an in-process slot. Used for testing
// and keyless local development (no persistence across restarts).
type MemoryStore struct {
	mu    sync.RWMutex
	order *model.Order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveOrder(_ context.Context, order *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = cloneOrder(order)
	return nil
}

func (s *MemoryStore) LatestOrder(_ context.Context) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.order == nil {
		return nil, ErrNoOrder
	}
	return cloneOrder(s.order), nil
}
