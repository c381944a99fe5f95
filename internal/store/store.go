// Package store defines the persisted order repository. The demo keeps a
// single-slot record: only the most recent order is retained, read-modify-
// write with last-write-wins semantics and no transactional guarantee.
//
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and keyless local runs).
package store

import (
	"context"
	"errors"

	"github.com/raincheck/rainline/internal/model"
)

// ErrNoOrder is returned by LatestOrder when nothing has been saved yet.
var ErrNoOrder = errors.New("store: no order saved")

// Store is the single-slot order repository.
type Store interface {
	// SaveOrder persists the order, replacing any previously saved one.
	SaveOrder(ctx context.Context, order *model.Order) error

	// LatestOrder returns the most recently saved order, or ErrNoOrder.
	LatestOrder(ctx context.Context) (*model.Order, error)
}

// cloneOrder copies an order so callers cannot mutate stored state through
// shared pointers.
func cloneOrder(o *model.Order) *model.Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Wager != nil {
		w := *o.Wager
		cp.Wager = &w
	}
	if o.Event.Artists != nil {
		cp.Event.Artists = append([]string(nil), o.Event.Artists...)
	}
	return &cp
}
