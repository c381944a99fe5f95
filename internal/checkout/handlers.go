package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/raincheck/rainline/internal/catalog"
	"github.com/raincheck/rainline/internal/model"
	"github.com/raincheck/rainline/internal/store"
)

// --- Request/Response types ---

// SelectRequest is the JSON body for POST /checkout/select.
type SelectRequest struct {
	EventID string `json:"event_id"`
}

// SessionResponse is the checkout snapshot returned after selection and
// quantity changes.
type SessionResponse struct {
	Event          model.EventContext `json:"event"`
	Quantity       int                `json:"quantity"`
	UnitPrice      decimal.Decimal    `json:"unit_price"`
	Fees           model.FeeBreakdown `json:"fees"`
	ForecastStatus string             `json:"forecast_status"` // pending until the async fetch lands
}

// QuantityRequest is the JSON body for PUT /checkout/quantity.
type QuantityRequest struct {
	Quantity int `json:"quantity"`
}

// QuoteResponse prices a prospective wager against the current session.
type QuoteResponse struct {
	Line           float64            `json:"line_inches"`
	Stake          decimal.Decimal    `json:"stake"`
	WinProbability float64            `json:"win_probability"`
	Multiplier     float64            `json:"payout_multiplier"`
	PayoutIfWin    decimal.Decimal    `json:"payout_if_win"`
	MinStake       decimal.Decimal    `json:"min_stake"`
	UsingFallback  bool               `json:"using_fallback"`
	ForecastNote   string             `json:"forecast_note,omitempty"`
	Projection     *model.Projection  `json:"projection,omitempty"`
	Fees           model.FeeBreakdown `json:"fees"`
}

// WagerRequest is the JSON body for POST /wagers.
type WagerRequest struct {
	Line  float64         `json:"line_inches"`
	Stake decimal.Decimal `json:"stake"`
}

// SettleRequest is the JSON body for POST /wagers/settle.
type SettleRequest struct {
	Won bool `json:"won"`
}

// SearchResponse is the JSON body returned from GET /events.
type SearchResponse struct {
	Events []model.EventContext `json:"events"`
	Page   catalog.Page         `json:"page"`
}

// --- HTTP Handlers ---

// Routes mounts the checkout API under /api/v1.
func (s *Service) Routes(r chi.Router) {
	r.Get("/api/v1/events", s.SearchEvents)
	r.Get("/api/v1/events/{eventID}", s.GetEvent)
	r.Post("/api/v1/checkout/select", s.SelectEvent)
	r.Put("/api/v1/checkout/quantity", s.SetQuantity)
	r.Get("/api/v1/checkout/quote", s.GetQuote)
	r.Post("/api/v1/checkout", s.PayNow)
	r.Post("/api/v1/wagers", s.PlaceWager)
	r.Post("/api/v1/wagers/settle", s.SettleWager)
	r.Get("/api/v1/orders/latest", s.GetLatestOrder)
}

// SearchEvents handles GET /api/v1/events
// Query parameters: keyword, city, start_date, end_date (2006-01-02), page.
func (s *Service) SearchEvents(w http.ResponseWriter, r *http.Request) {
	q := catalog.Query{
		Keyword: r.URL.Query().Get("keyword"),
		City:    r.URL.Query().Get("city"),
	}
	if v := r.URL.Query().Get("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, "start_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		q.StartDate = t
	}
	if v := r.URL.Query().Get("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, "end_date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		q.EndDate = t
	}
	if v := r.URL.Query().Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 0 {
			writeError(w, "page must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.Page = page
	}

	events, page, err := s.events.Search(r.Context(), q)
	if err != nil {
		writeError(w, "event search failed", http.StatusBadGateway)
		return
	}
	if events == nil {
		events = []model.EventContext{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Events: events, Page: page})
}

// GetEvent handles GET /api/v1/events/{eventID}
// Returns enriched detail without touching the checkout session.
func (s *Service) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.events.EventByID(r.Context(), chi.URLParam(r, "eventID"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load event", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// SelectEvent handles POST /api/v1/checkout/select
// Loads the event, seeds pricing, and starts the async forecast fetch.
func (s *Service) SelectEvent(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" {
		writeError(w, "event_id is required", http.StatusBadRequest)
		return
	}

	ev, err := s.selectEvent(r.Context(), req.EventID)
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load event", http.StatusBadGateway)
		return
	}

	s.mu.Lock()
	resp := SessionResponse{
		Event:          *ev,
		Quantity:       s.session.quantity,
		UnitPrice:      s.session.unitPrice,
		Fees:           s.feesLocked(decimal.Zero),
		ForecastStatus: "pending",
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// SetQuantity handles PUT /api/v1/checkout/quantity
func (s *Service) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	fb, err := s.setQuantity(req.Quantity)
	switch {
	case errors.Is(err, ErrQuantityOutOfRange):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrNoSelection):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, "failed to update quantity", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, fb)
}

// GetQuote handles GET /api/v1/checkout/quote?line=&stake=
// Read-only: prices the wager without placing it.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	line, err := strconv.ParseFloat(r.URL.Query().Get("line"), 64)
	if err != nil {
		writeError(w, "line must be a number of inches", http.StatusBadRequest)
		return
	}

	stake := decimal.Zero
	if v := r.URL.Query().Get("stake"); v != "" {
		stake, err = decimal.NewFromString(v)
		if err != nil {
			writeError(w, "stake must be a decimal amount", http.StatusBadRequest)
			return
		}
	}

	quote, err := s.quote(line, stake)
	switch {
	case errors.Is(err, ErrNoSelection):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrLineNotFinite):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeError(w, "failed to compute quote", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// PlaceWager handles POST /api/v1/wagers
// Placement freezes probability, multiplier, and payout-if-win.
func (s *Service) PlaceWager(w http.ResponseWriter, r *http.Request) {
	var req WagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.placeWager(r.Context(), req.Line, req.Stake)
	switch {
	case errors.Is(err, ErrNoSelection):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrLineNotFinite),
		errors.Is(err, ErrLineNotPositive),
		errors.Is(err, ErrNoTicketPrice),
		errors.Is(err, ErrStakeBelowMinimum):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeError(w, "failed to place wager", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// SettleWager handles POST /api/v1/wagers/settle
func (s *Service) SettleWager(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	order, err := s.settle(r.Context(), req.Won)
	switch {
	case errors.Is(err, ErrNoPendingWager):
		writeError(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, ErrAlreadySettled):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, "failed to settle wager", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// PayNow handles POST /api/v1/checkout
// Persists the ticket-only order; a pending wager for the same event rides
// along unchanged.
func (s *Service) PayNow(w http.ResponseWriter, r *http.Request) {
	order, err := s.payNow(r.Context())
	if errors.Is(err, ErrNoSelection) {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		writeError(w, "failed to complete checkout", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// GetLatestOrder handles GET /api/v1/orders/latest
func (s *Service) GetLatestOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.LatestOrder(r.Context())
	if errors.Is(err, store.ErrNoOrder) {
		writeError(w, "no order saved", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to load order", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
