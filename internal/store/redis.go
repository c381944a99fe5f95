package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/raincheck/rainline/internal/model"
)

// orderKey is the Redis key for the single-slot order document.
const orderKey = "rainline:order:latest"

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh the cache; reads check
// Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveOrder(ctx context.Context, order *model.Order) error {
	if err := s.primary.SaveOrder(ctx, order); err != nil {
		return err
	}
	s.cacheOrder(ctx, order)
	return nil
}

func (s *CachedStore) LatestOrder(ctx context.Context) (*model.Order, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, orderKey).Bytes()
	if err == nil {
		var order model.Order
		if json.Unmarshal(data, &order) == nil {
			return &order, nil
		}
	}

	// Cache miss: read from primary.
	order, err := s.primary.LatestOrder(ctx)
	if err != nil {
		return nil, err
	}

	s.cacheOrder(ctx, order)
	return order, nil
}

func (s *CachedStore) cacheOrder(ctx context.Context, order *model.Order) {
	if data, err := json.Marshal(order); err == nil {
		s.rdb.Set(ctx, orderKey, data, s.ttl)
	}
}
