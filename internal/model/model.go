// Package model defines the core domain types shared across the Rainline
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Physical measurements (inches of rain, probabilities) stay float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wager statuses. Transitions are monotonic: pending → won or pending → lost,
// both terminal.
const (
	WagerPending = "pending"
	WagerWon     = "won"
	WagerLost    = "lost"
)

// EventContext is the immutable per-selection snapshot of an event taken when
// the user opens checkout. Lifetime is one checkout session.
type EventContext struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"` // normalized: concert, sports, festival, theatre
	StartsAt  time.Time `json:"starts_at"`
	Venue     string    `json:"venue"`
	City      string    `json:"city"`
	Country   string    `json:"country"`
	Outdoor   bool      `json:"outdoor"`
	Artists   []string  `json:"artists,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	HasCoords bool      `json:"has_coords"`

	// Advertised price range from the catalog. Nil means the catalog did not
	// publish pricing and a category estimate is in effect.
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
}

// Projection is the modeled expected precipitation for an event window,
// derived from hourly forecast samples. Absence (a nil *Projection) signals
// "no forecast available" and routes callers onto the fallback odds path.
type Projection struct {
	ProjectedInches float64   `json:"projected_inches"`
	RawMillimeters  float64   `json:"raw_millimeters"`
	SampleCount     int       `json:"sample_count"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
}

// Wager is the central mutable entity. Probability, multiplier, and payout
// are captured at placement time and never recomputed at settlement.
type Wager struct {
	Line             float64         `json:"line_inches"` // precipitation threshold, must be > 0
	Stake            decimal.Decimal `json:"stake"`
	WinProbability   float64         `json:"win_probability"`   // frozen at placement
	PayoutMultiplier float64         `json:"payout_multiplier"` // frozen at placement
	PayoutIfWin      decimal.Decimal `json:"payout_if_win"`     // stake × multiplier, frozen
	Status           string          `json:"status"`
	PlacedAt         time.Time       `json:"placed_at"`
	SettledAt        *time.Time      `json:"settled_at,omitempty"` // set exactly once
	Payout           decimal.Decimal `json:"payout"`               // PayoutIfWin on win, 0 on loss
}

// Pending reports whether the wager is still awaiting settlement.
func (w *Wager) Pending() bool {
	return w != nil && w.Status == WagerPending
}

// FeeBreakdown composes the checkout totals. Recomputed on every relevant
// input change; the stored copy reflects the values at the last save.
type FeeBreakdown struct {
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TicketSubtotal decimal.Decimal `json:"ticket_subtotal"` // unitPrice × quantity
	ServiceFee     decimal.Decimal `json:"service_fee"`     // subtotal × rate
	ProcessingFee  decimal.Decimal `json:"processing_fee"`  // flat
	WagerStake     decimal.Decimal `json:"wager_stake"`     // 0 when no pending wager
	GrandTotal     decimal.Decimal `json:"grand_total"`
	PriceEstimated bool            `json:"price_estimated"` // category estimate in effect
	PriceNote      string          `json:"price_note,omitempty"`
}

// Order aggregates one event selection, quantity, fee breakdown, and at most
// one wager. An event id may have at most one order with a pending wager at
// any time; re-placement updates that wager in place.
type Order struct {
	ID        string       `json:"id"`
	Event     EventContext `json:"event"`
	Quantity  int          `json:"quantity"`
	Fees      FeeBreakdown `json:"fees"`
	Wager     *Wager       `json:"wager,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PendingWagerFor reports whether this order holds a pending wager against
// the given event id.
func (o *Order) PendingWagerFor(eventID string) bool {
	if o == nil || !o.Wager.Pending() {
		return false
	}
	// If both sides carry a source event id they must match; a missing id on
	// either side falls back to current-selection matching.
	if eventID != "" && o.Event.ID != "" && o.Event.ID != eventID {
		return false
	}
	return true
}
