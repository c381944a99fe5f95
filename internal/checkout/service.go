// Package checkout provides the HTTP handlers and business logic for the
// rain-wager checkout session: event selection, forecast-backed quoting,
// wager placement, and settlement.
//
// All monetary values use shopspring/decimal — never float64 for money.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/raincheck/rainline/internal/catalog"
	"github.com/raincheck/rainline/internal/fees"
	"github.com/raincheck/rainline/internal/metrics"
	"github.com/raincheck/rainline/internal/model"
	"github.com/raincheck/rainline/internal/odds"
	"github.com/raincheck/rainline/internal/payout"
	"github.com/raincheck/rainline/internal/store"
)

// Quantity bounds for the ticket picker.
const (
	DefaultQuantity = 2
	MinQuantity     = 1
	MaxQuantity     = 8
)

var (
	// ErrNoSelection is returned when a session operation runs before any
	// event has been selected.
	ErrNoSelection = errors.New("no event selected")

	// ErrLineNotPositive rejects rain lines at or below zero inches.
	ErrLineNotPositive = errors.New("rain line must be greater than zero inches")

	// ErrLineNotFinite rejects NaN and infinite rain lines before they can
	// reach the decimal money math or the stored order.
	ErrLineNotFinite = errors.New("rain line must be a finite number of inches")

	// ErrNoTicketPrice rejects wagers when the ticket subtotal is zero.
	ErrNoTicketPrice = errors.New("ticket subtotal must be above zero to attach a wager")

	// ErrStakeBelowMinimum rejects stakes under the order's minimum.
	ErrStakeBelowMinimum = errors.New("stake is below the minimum for this order")

	// ErrNoPendingWager is returned by settlement when nothing is pending.
	ErrNoPendingWager = errors.New("no pending wager to settle")

	// ErrAlreadySettled rejects re-settlement of a terminal wager.
	ErrAlreadySettled = errors.New("wager is already settled")

	// ErrQuantityOutOfRange rejects ticket quantities outside [1, 8].
	ErrQuantityOutOfRange = errors.New("ticket quantity must be between 1 and 8")
)

// EventSource is the slice of the catalog the session depends on.
type EventSource interface {
	Search(ctx context.Context, q catalog.Query) ([]model.EventContext, catalog.Page, error)
	EventByID(ctx context.Context, id string) (*model.EventContext, error)
}

// ProjectionSource derives a precipitation projection for an event, or
// explains why none is available.
type ProjectionSource interface {
	ProjectForEvent(ctx context.Context, ev *model.EventContext) (*model.Projection, string)
}

// Service handles checkout operations. A mutex guards the single current
// session (single-instance demo); selecting a new event cancels and
// supersedes any in-flight forecast fetch.
type Service struct {
	store     store.Store
	events    EventSource
	projector ProjectionSource
	hub       *Hub // optional WebSocket hub for real-time broadcasts

	mu          sync.Mutex
	session     session
	fetchGen    uint64
	cancelFetch context.CancelFunc
}

// session is the current checkout state. Zero value means nothing selected.
type session struct {
	event          *model.EventContext
	projection     *model.Projection
	projectionNote string
	quantity       int
	unitPrice      decimal.Decimal
	priceEstimated bool
	priceNote      string
}

// NewService creates a new checkout service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, events EventSource, projector ProjectionSource, hub *Hub) *Service {
	return &Service{
		store:     st,
		events:    events,
		projector: projector,
		hub:       hub,
		session:   session{quantity: DefaultQuantity},
	}
}

// resolveUnitPrice seeds the per-ticket price from the catalog's advertised
// range, falling back to a category estimate when the catalog publishes no
// pricing. The floor keeps free/placeholder listings wagerable.
func resolveUnitPrice(ev *model.EventContext) (price decimal.Decimal, estimated bool, note string) {
	switch {
	case ev.MinPrice != nil && ev.MinPrice.IsPositive():
		price = ev.MinPrice.Round(0)
	case ev.MaxPrice != nil && ev.MaxPrice.IsPositive():
		price = ev.MaxPrice.Round(0)
	default:
		price = catalog.EstimatePrice(ev.Category)
		estimated = true
		note = "typical price for " + ev.Category + " events"
	}

	floor := decimal.NewFromInt(10)
	if price.LessThan(floor) {
		price = floor
	}
	return price, estimated, note
}

// selectEvent loads the event detail, resets the session around it, and
// kicks off an async forecast fetch. A newer selection supersedes an
// in-flight fetch: the old context is cancelled and a late result is
// discarded by generation check.
func (s *Service) selectEvent(ctx context.Context, eventID string) (*model.EventContext, error) {
	ev, err := s.events.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.fetchGen++
	gen := s.fetchGen

	fetchCtx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel

	unit, estimated, note := resolveUnitPrice(ev)
	s.session.event = ev
	s.session.unitPrice = unit
	s.session.priceEstimated = estimated
	s.session.priceNote = note
	s.session.projection = nil
	s.session.projectionNote = "checking the forecast"
	if s.session.quantity < MinQuantity {
		s.session.quantity = DefaultQuantity
	}
	s.mu.Unlock()

	go s.fetchProjection(fetchCtx, gen, ev)

	slog.Info("event selected",
		"event", ev.ID,
		"name", ev.Name,
		"unit_price", unit.String(),
		"estimated", estimated,
	)
	return ev, nil
}

// fetchProjection resolves the forecast for the selected event and installs
// it into the session unless a newer selection has superseded this fetch.
func (s *Service) fetchProjection(ctx context.Context, gen uint64, ev *model.EventContext) {
	proj, reason := s.projector.ProjectForEvent(ctx, ev)

	s.mu.Lock()
	if gen != s.fetchGen {
		s.mu.Unlock()
		metrics.ForecastFetchesTotal.WithLabelValues("superseded").Inc()
		return
	}
	s.session.projection = proj
	s.session.projectionNote = reason
	s.mu.Unlock()

	if proj != nil {
		metrics.ForecastFetchesTotal.WithLabelValues("ok").Inc()
		slog.Info("forecast resolved",
			"event", ev.ID,
			"projected_inches", proj.ProjectedInches,
			"samples", proj.SampleCount,
		)
	} else {
		metrics.ForecastFetchesTotal.WithLabelValues("fallback").Inc()
		slog.Info("forecast unavailable, fallback odds in effect", "event", ev.ID, "reason", reason)
	}

	if s.hub != nil {
		msg := WSMessage{Type: "forecast", EventID: ev.ID, Note: reason}
		if proj != nil {
			msg.ProjectedInches = proj.ProjectedInches
		}
		s.hub.Broadcast(msg)
	}
}

// setQuantity updates the ticket count and returns the refreshed fee
// breakdown (without wager stake).
func (s *Service) setQuantity(quantity int) (model.FeeBreakdown, error) {
	if quantity < MinQuantity || quantity > MaxQuantity {
		return model.FeeBreakdown{}, ErrQuantityOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.event == nil {
		return model.FeeBreakdown{}, ErrNoSelection
	}
	s.session.quantity = quantity
	return s.feesLocked(decimal.Zero), nil
}

// feesLocked computes the fee breakdown for the current session and the
// given wager stake. Caller must hold s.mu.
func (s *Service) feesLocked(stake decimal.Decimal) model.FeeBreakdown {
	fb := fees.Compute(s.session.unitPrice, s.session.quantity, stake)
	fb.PriceEstimated = s.session.priceEstimated
	fb.PriceNote = s.session.priceNote
	return fb
}

// quote prices a prospective wager against the current session without
// writing anything. Forecast absence routes to fallback odds.
func (s *Service) quote(line float64, stake decimal.Decimal) (QuoteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.event == nil {
		return QuoteResponse{}, ErrNoSelection
	}
	if math.IsNaN(line) || math.IsInf(line, 0) {
		return QuoteResponse{}, ErrLineNotFinite
	}

	p := odds.WinProbability(line, s.session.projection)
	mult := payout.Multiplier(p)
	subtotal := s.session.unitPrice.Mul(decimal.NewFromInt(int64(s.session.quantity)))

	return QuoteResponse{
		Line:           line,
		Stake:          stake,
		WinProbability: p,
		Multiplier:     mult,
		PayoutIfWin:    payout.PayoutIfWin(stake, mult),
		MinStake:       payout.MinStake(subtotal),
		UsingFallback:  s.session.projection == nil,
		ForecastNote:   s.session.projectionNote,
		Projection:     s.session.projection,
		Fees:           s.feesLocked(stake),
	}, nil
}

// placeWager validates and places a wager against the current selection.
// Probability, multiplier, and payout-if-win freeze at placement. If the
// stored order already holds a pending wager for the same event, that wager
// is overwritten in place so at most one pending wager exists per event.
func (s *Service) placeWager(ctx context.Context, line float64, stake decimal.Decimal) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.event == nil {
		return nil, ErrNoSelection
	}
	if math.IsNaN(line) || math.IsInf(line, 0) {
		metrics.WagerRejections.WithLabelValues("line_not_finite").Inc()
		return nil, ErrLineNotFinite
	}
	if line <= 0 {
		metrics.WagerRejections.WithLabelValues("line_not_positive").Inc()
		return nil, ErrLineNotPositive
	}

	subtotal := s.session.unitPrice.Mul(decimal.NewFromInt(int64(s.session.quantity)))
	if !subtotal.IsPositive() {
		metrics.WagerRejections.WithLabelValues("no_ticket_price").Inc()
		return nil, ErrNoTicketPrice
	}

	minStake := payout.MinStake(subtotal)
	if stake.LessThan(minStake) {
		metrics.WagerRejections.WithLabelValues("stake_below_minimum").Inc()
		return nil, fmt.Errorf("%w: minimum is %s", ErrStakeBelowMinimum, minStake.StringFixed(2))
	}

	p := odds.WinProbability(line, s.session.projection)
	mult := payout.Multiplier(p)
	now := time.Now().UTC()

	wager := model.Wager{
		Line:             line,
		Stake:            stake,
		WinProbability:   p,
		PayoutMultiplier: mult,
		PayoutIfWin:      payout.PayoutIfWin(stake, mult),
		Status:           model.WagerPending,
		PlacedAt:         now,
		Payout:           decimal.Zero,
	}

	order, err := s.store.LatestOrder(ctx)
	if err != nil && !errors.Is(err, store.ErrNoOrder) {
		return nil, err
	}

	ev := *s.session.event
	if order != nil && order.PendingWagerFor(ev.ID) {
		// Re-placement for the same event updates the pending wager rather
		// than stacking a second one.
		*order.Wager = wager
	} else {
		order = &model.Order{
			ID:        uuid.New().String(),
			CreatedAt: now,
			Wager:     &wager,
		}
	}
	order.Event = ev
	order.Quantity = s.session.quantity
	order.Fees = s.feesLocked(stake)
	order.UpdatedAt = now

	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	metrics.WagersPlacedTotal.WithLabelValues(ev.Category).Inc()
	slog.Info("wager placed",
		"order", order.ID,
		"event", ev.ID,
		"line_inches", line,
		"stake", stake.String(),
		"win_probability", p,
		"payout_if_win", wager.PayoutIfWin.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:           "wager_placed",
			EventID:        ev.ID,
			Line:           line,
			Stake:          stake.String(),
			WinProbability: p,
			Multiplier:     mult,
			PayoutIfWin:    wager.PayoutIfWin.String(),
			Status:         model.WagerPending,
		})
	}

	return order, nil
}

// settle resolves the stored pending wager. Transitions are terminal:
// pending → won or pending → lost, SettledAt stamped exactly once, and a
// settled wager can never be re-settled.
func (s *Service) settle(ctx context.Context, won bool) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, err := s.store.LatestOrder(ctx)
	if errors.Is(err, store.ErrNoOrder) {
		return nil, ErrNoPendingWager
	}
	if err != nil {
		return nil, err
	}
	if order.Wager == nil {
		return nil, ErrNoPendingWager
	}
	if !order.Wager.Pending() {
		return nil, ErrAlreadySettled
	}

	now := time.Now().UTC()
	order.Wager.SettledAt = &now
	if won {
		order.Wager.Status = model.WagerWon
		// Payout was frozen at placement; settlement only releases it.
		order.Wager.Payout = order.Wager.PayoutIfWin
	} else {
		order.Wager.Status = model.WagerLost
		order.Wager.Payout = decimal.Zero
	}
	order.UpdatedAt = now

	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	metrics.WagersSettledTotal.WithLabelValues(order.Wager.Status).Inc()
	slog.Info("wager settled",
		"order", order.ID,
		"event", order.Event.ID,
		"outcome", order.Wager.Status,
		"payout", order.Wager.Payout.String(),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:        "wager_settled",
			EventID:     order.Event.ID,
			Status:      order.Wager.Status,
			Payout:      order.Wager.Payout.String(),
			PayoutIfWin: order.Wager.PayoutIfWin.String(),
		})
	}

	return order, nil
}

// payNow persists the ticket-only order for the current selection. An
// existing pending wager for the same event is carried along untouched.
func (s *Service) payNow(ctx context.Context) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.event == nil {
		return nil, ErrNoSelection
	}

	ev := *s.session.event
	now := time.Now().UTC()
	stake := decimal.Zero

	order, err := s.store.LatestOrder(ctx)
	if err != nil && !errors.Is(err, store.ErrNoOrder) {
		return nil, err
	}

	if order != nil && order.PendingWagerFor(ev.ID) {
		stake = order.Wager.Stake
	} else {
		order = &model.Order{
			ID:        uuid.New().String(),
			CreatedAt: now,
		}
	}
	order.Event = ev
	order.Quantity = s.session.quantity
	order.Fees = s.feesLocked(stake)
	order.UpdatedAt = now

	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	slog.Info("checkout completed",
		"order", order.ID,
		"event", ev.ID,
		"quantity", order.Quantity,
		"grand_total", order.Fees.GrandTotal.String(),
		"has_wager", order.Wager != nil,
	)
	return order, nil
}
