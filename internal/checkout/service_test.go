package checkout_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/raincheck/rainline/internal/catalog"
	"github.com/raincheck/rainline/internal/checkout"
	"github.com/raincheck/rainline/internal/model"
	"github.com/raincheck/rainline/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// fakeCatalog serves event detail from a fixed map.
type fakeCatalog struct {
	events map[string]*model.EventContext
}

func (f *fakeCatalog) Search(_ context.Context, _ catalog.Query) ([]model.EventContext, catalog.Page, error) {
	out := make([]model.EventContext, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, *ev)
	}
	return out, catalog.Page{Number: 0, TotalPages: 1}, nil
}

func (f *fakeCatalog) EventByID(_ context.Context, id string) (*model.EventContext, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

// fakeProjector returns canned projections. A gate channel, when present,
// blocks the fetch until closed or the fetch context is cancelled.
type fakeProjector struct {
	mu    sync.Mutex
	projs map[string]*model.Projection
	gates map[string]chan struct{}
}

func (f *fakeProjector) ProjectForEvent(ctx context.Context, ev *model.EventContext) (*model.Projection, string) {
	f.mu.Lock()
	gate := f.gates[ev.ID]
	proj := f.projs[ev.ID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, "forecast unavailable for this date/location"
		}
	}
	if proj == nil {
		return nil, "forecast unavailable for this date/location"
	}
	return proj, ""
}

func outdoorEvent(id string) *model.EventContext {
	min := d(100)
	return &model.EventContext{
		ID:        id,
		Name:      "Rain or Shine Festival",
		Category:  "festival",
		StartsAt:  time.Date(2025, 8, 15, 19, 0, 0, 0, time.UTC),
		Venue:     "Riverside Park",
		City:      "Austin",
		Country:   "US",
		Outdoor:   true,
		HasCoords: true,
		Latitude:  30.26,
		Longitude: -97.74,
		MinPrice:  &min,
	}
}

func projection(inches float64) *model.Projection {
	return &model.Projection{
		ProjectedInches: inches,
		RawMillimeters:  inches * 25.4,
		SampleCount:     4,
	}
}

func newTestEnv(t *testing.T, fc *fakeCatalog, fp *fakeProjector) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := checkout.NewService(ms, fc, fp, nil)
	r := chi.NewRouter()
	svc.Routes(r)
	return ms, r
}

func doReq(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func selectEvent(t *testing.T, router chi.Router, id string) checkout.SessionResponse {
	t.Helper()
	rec := doReq(t, router, http.MethodPost, "/api/v1/checkout/select", checkout.SelectRequest{EventID: id})
	if rec.Code != http.StatusOK {
		t.Fatalf("select returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp checkout.SessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode select response: %v", err)
	}
	return resp
}

// waitForForecast polls the quote endpoint until the async fetch lands.
func waitForForecast(t *testing.T, router chi.Router) checkout.QuoteResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := doReq(t, router, http.MethodGet, "/api/v1/checkout/quote?line=0.25&stake=25", nil)
		var q checkout.QuoteResponse
		if err := json.NewDecoder(rec.Body).Decode(&q); err == nil && !q.UsingFallback {
			return q
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("forecast never resolved")
	return checkout.QuoteResponse{}
}

func TestSelectEvent_SeedsPriceFromCatalog(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})

	resp := selectEvent(t, router, "ev1")

	if !resp.UnitPrice.Equal(d(100)) {
		t.Errorf("unit price = %s, want 100", resp.UnitPrice)
	}
	if resp.Quantity != 2 {
		t.Errorf("default quantity = %d, want 2", resp.Quantity)
	}
	if !resp.Fees.TicketSubtotal.Equal(d(200)) {
		t.Errorf("subtotal = %s, want 200", resp.Fees.TicketSubtotal)
	}
	if resp.Fees.PriceEstimated {
		t.Error("catalog-priced event should not be flagged estimated")
	}
	if resp.ForecastStatus != "pending" {
		t.Errorf("forecast status = %q, want pending", resp.ForecastStatus)
	}
}

func TestSelectEvent_CategoryEstimateWhenNoPricing(t *testing.T) {
	ev := outdoorEvent("ev1")
	ev.Category = "sports"
	ev.MinPrice = nil
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": ev}}
	_, router := newTestEnv(t, fc, &fakeProjector{})

	resp := selectEvent(t, router, "ev1")

	if !resp.UnitPrice.Equal(d(120)) {
		t.Errorf("unit price = %s, want sports estimate 120", resp.UnitPrice)
	}
	if !resp.Fees.PriceEstimated {
		t.Error("estimated pricing should be flagged")
	}
}

func TestSelectEvent_NotFound(t *testing.T) {
	_, router := newTestEnv(t, &fakeCatalog{events: nil}, &fakeProjector{})

	rec := doReq(t, router, http.MethodPost, "/api/v1/checkout/select", checkout.SelectRequest{EventID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQuote_FallbackOddsWithoutForecast(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	rec := doReq(t, router, http.MethodGet, "/api/v1/checkout/quote?line=0.25&stake=25", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("quote returned %d: %s", rec.Code, rec.Body.String())
	}
	var q checkout.QuoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&q); err != nil {
		t.Fatalf("decode quote: %v", err)
	}

	if !q.UsingFallback {
		t.Error("quote without forecast should use fallback odds")
	}
	if math.Abs(q.WinProbability-0.42025) > 1e-9 {
		t.Errorf("fallback probability = %v, want 0.42025", q.WinProbability)
	}
	if !q.MinStake.Equal(d(20)) {
		t.Errorf("min stake = %s, want 20 (10%% of 200 subtotal)", q.MinStake)
	}
	want := d(25 * q.Multiplier).Round(2)
	if q.PayoutIfWin.Sub(want).Abs().GreaterThan(d(0.01)) {
		t.Errorf("payout_if_win = %s, want stake x multiplier = %s", q.PayoutIfWin, want)
	}
}

func TestQuote_UsesForecastWhenAvailable(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	fp := &fakeProjector{projs: map[string]*model.Projection{"ev1": projection(0.5)}}
	_, router := newTestEnv(t, fc, fp)
	selectEvent(t, router, "ev1")

	q := waitForForecast(t, router)

	if q.Projection == nil || q.Projection.ProjectedInches != 0.5 {
		t.Fatalf("projection not surfaced: %+v", q.Projection)
	}
	// Line below the projection: better-than-even odds on the forecast path.
	if q.WinProbability <= 0.5 {
		t.Errorf("probability = %v, want > 0.5 for line under projection", q.WinProbability)
	}
}

func TestGetQuote_RejectsNonFiniteLine(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	// ParseFloat accepts these; they must be rejected before the money math.
	for _, raw := range []string{"NaN", "Inf", "-Inf"} {
		rec := doReq(t, router, http.MethodGet, "/api/v1/checkout/quote?line="+raw+"&stake=25", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("line=%s: status = %d, want 400", raw, rec.Code)
		}
		var body map[string]string
		json.NewDecoder(rec.Body).Decode(&body)
		if body["error"] == "" {
			t.Errorf("line=%s: rejection should carry a specific reason", raw)
		}
	}
}

func TestQuote_NoSelection(t *testing.T) {
	_, router := newTestEnv(t, &fakeCatalog{}, &fakeProjector{})

	rec := doReq(t, router, http.MethodGet, "/api/v1/checkout/quote?line=0.25", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestPlaceWager_FreezesOddsAtPlacement(t *testing.T) {
	gate := make(chan struct{})
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	fp := &fakeProjector{
		projs: map[string]*model.Projection{"ev1": projection(0.5)},
		gates: map[string]chan struct{}{"ev1": gate},
	}
	ms, router := newTestEnv(t, fc, fp)
	selectEvent(t, router, "ev1")

	// Place while the forecast is still in flight: fallback odds apply.
	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place returned %d: %s", rec.Code, rec.Body.String())
	}

	// Let the forecast land, then confirm the stored wager kept the odds it
	// was placed with.
	close(gate)
	waitForForecast(t, router)

	order, err := ms.LatestOrder(context.Background())
	if err != nil {
		t.Fatalf("latest order: %v", err)
	}
	if math.Abs(order.Wager.WinProbability-0.42025) > 1e-9 {
		t.Errorf("stored probability = %v, want the fallback value frozen at placement", order.Wager.WinProbability)
	}
	wantPayout := d(25 * order.Wager.PayoutMultiplier).Round(2)
	if order.Wager.PayoutIfWin.Sub(wantPayout).Abs().GreaterThan(d(0.01)) {
		t.Errorf("payout_if_win = %s, want %s", order.Wager.PayoutIfWin, wantPayout)
	}
}

func TestPlaceWager_StakeBelowMinimum(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(5)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("rejection should carry a specific reason")
	}
}

func TestPlaceWager_LineNotPositive(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	for _, line := range []float64{0, -0.5} {
		rec := doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: line, Stake: d(25)})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("line %v: status = %d, want 400", line, rec.Code)
		}
	}
}

func TestPlaceWager_NoSelection(t *testing.T) {
	_, router := newTestEnv(t, &fakeCatalog{}, &fakeProjector{})

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestPlaceWager_RePlacementOverwritesPending(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	ms, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first placement returned %d", rec.Code)
	}
	var first model.Order
	json.NewDecoder(rec.Body).Decode(&first)

	rec = doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.5, Stake: d(40)})
	if rec.Code != http.StatusCreated {
		t.Fatalf("re-placement returned %d", rec.Code)
	}

	order, err := ms.LatestOrder(context.Background())
	if err != nil {
		t.Fatalf("latest order: %v", err)
	}
	if order.ID != first.ID {
		t.Errorf("re-placement created a new order (%s vs %s), want in-place update", order.ID, first.ID)
	}
	if order.Wager.Line != 0.5 || !order.Wager.Stake.Equal(d(40)) {
		t.Errorf("wager not overwritten: line=%v stake=%s", order.Wager.Line, order.Wager.Stake)
	}
	if order.Wager.Status != model.WagerPending {
		t.Errorf("status = %q, want pending", order.Wager.Status)
	}
	if !order.Fees.WagerStake.Equal(d(40)) {
		t.Errorf("fees stake = %s, want 40", order.Fees.WagerStake)
	}
}

func TestSettle_WonReleasesFrozenPayout(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")
	doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers/settle", checkout.SettleRequest{Won: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle returned %d: %s", rec.Code, rec.Body.String())
	}
	var order model.Order
	json.NewDecoder(rec.Body).Decode(&order)

	if order.Wager.Status != model.WagerWon {
		t.Errorf("status = %q, want won", order.Wager.Status)
	}
	if !order.Wager.Payout.Equal(order.Wager.PayoutIfWin) {
		t.Errorf("payout = %s, want frozen payout_if_win %s", order.Wager.Payout, order.Wager.PayoutIfWin)
	}
	if order.Wager.SettledAt == nil {
		t.Error("settled_at not stamped")
	}
}

func TestSettle_LostPaysNothing(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")
	doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers/settle", checkout.SettleRequest{Won: false})
	var order model.Order
	json.NewDecoder(rec.Body).Decode(&order)

	if order.Wager.Status != model.WagerLost {
		t.Errorf("status = %q, want lost", order.Wager.Status)
	}
	if !order.Wager.Payout.IsZero() {
		t.Errorf("payout = %s, want 0", order.Wager.Payout)
	}
}

func TestSettle_RejectsResettlement(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")
	doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})
	doReq(t, router, http.MethodPost, "/api/v1/wagers/settle", checkout.SettleRequest{Won: false})

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers/settle", checkout.SettleRequest{Won: true})
	if rec.Code != http.StatusConflict {
		t.Errorf("re-settlement status = %d, want 409", rec.Code)
	}
}

func TestSettle_NoPendingWager(t *testing.T) {
	_, router := newTestEnv(t, &fakeCatalog{}, &fakeProjector{})

	rec := doReq(t, router, http.MethodPost, "/api/v1/wagers/settle", checkout.SettleRequest{Won: true})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSelectEvent_SupersedesInFlightFetch(t *testing.T) {
	gateA := make(chan struct{})
	evA := outdoorEvent("evA")
	evB := outdoorEvent("evB")
	fc := &fakeCatalog{events: map[string]*model.EventContext{"evA": evA, "evB": evB}}
	fp := &fakeProjector{
		projs: map[string]*model.Projection{
			"evA": projection(1.2),
			"evB": projection(0.5),
		},
		gates: map[string]chan struct{}{"evA": gateA},
	}
	_, router := newTestEnv(t, fc, fp)

	selectEvent(t, router, "evA")
	selectEvent(t, router, "evB")

	q := waitForForecast(t, router)
	if q.Projection.ProjectedInches != 0.5 {
		t.Fatalf("projection = %v, want the second selection's 0.5", q.Projection.ProjectedInches)
	}

	// Release the first fetch; its late result must not clobber the session.
	close(gateA)
	time.Sleep(20 * time.Millisecond)

	rec := doReq(t, router, http.MethodGet, "/api/v1/checkout/quote?line=0.25&stake=25", nil)
	var after checkout.QuoteResponse
	if err := json.NewDecoder(rec.Body).Decode(&after); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if after.UsingFallback || after.Projection == nil || after.Projection.ProjectedInches != 0.5 {
		t.Errorf("superseded fetch leaked into session: %+v", after.Projection)
	}
}

func TestSetQuantity_RecomputesFees(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	rec := doReq(t, router, http.MethodPut, "/api/v1/checkout/quantity", checkout.QuantityRequest{Quantity: 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var fb model.FeeBreakdown
	json.NewDecoder(rec.Body).Decode(&fb)
	if !fb.TicketSubtotal.Equal(d(400)) {
		t.Errorf("subtotal = %s, want 400", fb.TicketSubtotal)
	}

	rec = doReq(t, router, http.MethodPut, "/api/v1/checkout/quantity", checkout.QuantityRequest{Quantity: 9})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range quantity status = %d, want 400", rec.Code)
	}
}

func TestPayNow_TicketOnly(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")

	rec := doReq(t, router, http.MethodPost, "/api/v1/checkout", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var order model.Order
	json.NewDecoder(rec.Body).Decode(&order)

	if order.Wager != nil {
		t.Error("ticket-only checkout should carry no wager")
	}
	// 200 subtotal + 30 service + 6 processing.
	if !order.Fees.GrandTotal.Equal(d(236)) {
		t.Errorf("grand total = %s, want 236", order.Fees.GrandTotal)
	}
}

func TestPayNow_KeepsPendingWager(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})
	selectEvent(t, router, "ev1")
	doReq(t, router, http.MethodPost, "/api/v1/wagers", checkout.WagerRequest{Line: 0.25, Stake: d(25)})

	rec := doReq(t, router, http.MethodPost, "/api/v1/checkout", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var order model.Order
	json.NewDecoder(rec.Body).Decode(&order)

	if order.Wager == nil || order.Wager.Status != model.WagerPending {
		t.Fatal("pending wager should ride along with checkout")
	}
	if !order.Fees.WagerStake.Equal(d(25)) {
		t.Errorf("fees stake = %s, want 25", order.Fees.WagerStake)
	}
	// 236 ticket-side + 25 stake.
	if !order.Fees.GrandTotal.Equal(d(261)) {
		t.Errorf("grand total = %s, want 261", order.Fees.GrandTotal)
	}
}

func TestGetLatestOrder_EmptyIsNotFound(t *testing.T) {
	_, router := newTestEnv(t, &fakeCatalog{}, &fakeProjector{})

	rec := doReq(t, router, http.MethodGet, "/api/v1/orders/latest", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSearchEvents_ReturnsResults(t *testing.T) {
	fc := &fakeCatalog{events: map[string]*model.EventContext{"ev1": outdoorEvent("ev1")}}
	_, router := newTestEnv(t, fc, &fakeProjector{})

	rec := doReq(t, router, http.MethodGet, "/api/v1/events?keyword=festival", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp checkout.SearchResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Events) != 1 || resp.Events[0].ID != "ev1" {
		t.Errorf("unexpected events: %+v", resp.Events)
	}
}
