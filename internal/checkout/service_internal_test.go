package checkout

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/raincheck/rainline/internal/model"
	"github.com/raincheck/rainline/internal/store"
)

// Non-finite lines cannot arrive through the JSON body (encoding/json
// rejects them), so the placement guard is exercised directly.
func TestPlaceWager_RejectsNonFiniteLine(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, nil)
	svc.session.event = &model.EventContext{ID: "ev1", Name: "Rain or Shine Festival", Category: "festival"}
	svc.session.unitPrice = decimal.NewFromInt(100)
	svc.session.quantity = 2

	for _, line := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := svc.placeWager(context.Background(), line, decimal.NewFromInt(25))
		if !errors.Is(err, ErrLineNotFinite) {
			t.Errorf("line %v: err = %v, want ErrLineNotFinite", line, err)
		}
	}

	if _, err := svc.store.LatestOrder(context.Background()); !errors.Is(err, store.ErrNoOrder) {
		t.Errorf("rejected placement must not write an order, got %v", err)
	}
}

func TestQuote_RejectsNonFiniteLine(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, nil, nil)
	svc.session.event = &model.EventContext{ID: "ev1"}
	svc.session.unitPrice = decimal.NewFromInt(100)
	svc.session.quantity = 2

	for _, line := range []float64{math.NaN(), math.Inf(1)} {
		if _, err := svc.quote(line, decimal.NewFromInt(25)); !errors.Is(err, ErrLineNotFinite) {
			t.Errorf("line %v: err = %v, want ErrLineNotFinite", line, err)
		}
	}
}
