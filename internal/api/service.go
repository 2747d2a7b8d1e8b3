// Package api provides the HTTP handlers for managing markets, posting
// orders, executing trades, and querying the settlement ledger.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/fees"
	"github.com/emx/market-engine/internal/market"
	"github.com/emx/market-engine/internal/matching"
	"github.com/emx/market-engine/internal/metrics"
	"github.com/emx/market-engine/internal/model"
	"github.com/emx/market-engine/internal/orderbook"
	"github.com/emx/market-engine/internal/store"
)

// Service handles market operations. The engine serializes per-market
// mutations itself; the service only wires HTTP, persistence, metrics and
// the WebSocket hub together.
type Service struct {
	store    store.Store
	registry *market.Registry
	futures  *market.FutureMarkets
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, registry *market.Registry, futures *market.FutureMarkets, hub *WSHub) *Service {
	s := &Service{
		store:    st,
		registry: registry,
		futures:  futures,
		wsHub:    hub,
	}
	if futures != nil {
		futures.AddListener(s.handleEvent)
	}
	return s
}

// handleEvent persists and broadcasts one market event. Events arrive after
// the market lock is released, in emission order.
func (s *Service) handleEvent(ev model.Event) {
	ctx := context.Background()

	switch ev.Type {
	case model.EventOffer:
		s.persistOffer(ctx, ev.MarketID, ev.Offer)
		metrics.OpenOrders.WithLabelValues("offer").Inc()
	case model.EventBid:
		s.persistBid(ctx, ev.MarketID, ev.Bid)
		metrics.OpenOrders.WithLabelValues("bid").Inc()
	case model.EventOfferSplit:
		s.persistOffer(ctx, ev.MarketID, ev.Residual)
		metrics.OpenOrders.WithLabelValues("offer").Inc()
	case model.EventBidSplit:
		s.persistBid(ctx, ev.MarketID, ev.ResidualBid)
		metrics.OpenOrders.WithLabelValues("bid").Inc()
	case model.EventOfferDeleted:
		metrics.OpenOrders.WithLabelValues("offer").Dec()
	case model.EventBidDeleted:
		metrics.OpenOrders.WithLabelValues("bid").Dec()
	case model.EventOfferTraded:
		metrics.TradesTotal.WithLabelValues("offer").Inc()
		metrics.OpenOrders.WithLabelValues("offer").Dec()
		s.persistTrade(ctx, ev.MarketID, ev.Trade)
	case model.EventBidTraded:
		metrics.TradesTotal.WithLabelValues("bid").Inc()
		metrics.OpenOrders.WithLabelValues("bid").Dec()
		// A pair match emits both traded events for the same trade; the
		// offer side already persisted it.
		if ev.Trade.Offer == nil {
			s.persistTrade(ctx, ev.MarketID, ev.Trade)
		}
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     ev.Type,
			MarketID: ev.MarketID,
			Offer:    ev.Offer,
			Bid:      ev.Bid,
			Trade:    ev.Trade,
		})
	}
}

func (s *Service) persistOffer(ctx context.Context, marketID string, o *model.Offer) {
	if o == nil {
		return
	}
	rec := &store.OrderRecord{
		ID:            o.ID,
		MarketID:      marketID,
		Side:          store.SideOffer,
		Trader:        o.Seller.Name,
		Energy:        o.Energy,
		Price:         o.Price,
		OriginalPrice: o.OriginalPrice,
		TimeSlot:      o.TimeSlot,
		CreatedAt:     o.Time,
	}
	if err := s.store.InsertOrder(ctx, rec); err != nil {
		slog.Error("persist offer failed", "id", o.ID, "err", err)
	}
}

func (s *Service) persistBid(ctx context.Context, marketID string, b *model.Bid) {
	if b == nil {
		return
	}
	rec := &store.OrderRecord{
		ID:            b.ID,
		MarketID:      marketID,
		Side:          store.SideBid,
		Trader:        b.Buyer.Name,
		Energy:        b.Energy,
		Price:         b.Price,
		OriginalPrice: b.OriginalPrice,
		TimeSlot:      b.TimeSlot,
		CreatedAt:     b.Time,
	}
	if err := s.store.InsertOrder(ctx, rec); err != nil {
		slog.Error("persist bid failed", "id", b.ID, "err", err)
	}
}

func (s *Service) persistTrade(ctx context.Context, marketID string, t *model.Trade) {
	if t == nil {
		return
	}
	rec := &store.TradeRecord{
		ID:        t.ID,
		MarketID:  marketID,
		Seller:    t.Seller.Name,
		Buyer:     t.Buyer.Name,
		Energy:    t.TradedEnergy,
		Price:     t.TradePrice,
		FeePrice:  t.FeePrice,
		TimeSlot:  t.TimeSlot,
		CreatedAt: t.Time,
	}
	if t.Offer != nil {
		rec.OfferID = t.Offer.ID
	}
	if t.Bid != nil {
		rec.BidID = t.Bid.ID
	}
	if err := s.store.InsertTrade(ctx, rec); err != nil {
		slog.Error("persist trade failed", "id", t.ID, "err", err)
	}
	energy, _ := t.TradedEnergy.Float64()
	metrics.TradedEnergy.WithLabelValues(marketID).Add(energy)
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Name         string          `json:"name"`
	TimeSlot     time.Time       `json:"time_slot"`
	FeeKind      string          `json:"fee_kind"`      // "constant" or "percentage"
	FeeRate      decimal.Decimal `json:"fee_rate"`      // per-kWh for constant, fraction for percentage
	ClearingRate string          `json:"clearing_rate"` // "bid", "offer" or "midpoint"
}

// MarketView is the JSON shape a market is reported as.
type MarketView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	TimeSlot     time.Time       `json:"time_slot"`
	Open         bool            `json:"open"`
	FeeKind      string          `json:"fee_kind"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
	ClearingRate string          `json:"clearing_rate"`
}

// OrderRequest is the JSON body for posting an offer or a bid.
type OrderRequest struct {
	ID            string           `json:"id,omitempty"`
	Trader        model.TraderInfo `json:"trader"`
	Price         decimal.Decimal  `json:"price"`
	Energy        decimal.Decimal  `json:"energy"`
	OriginalPrice decimal.Decimal  `json:"original_price,omitempty"`
	TimeSlot      time.Time        `json:"time_slot,omitempty"`
	Attributes    map[string]any   `json:"attributes,omitempty"`
}

// AcceptRequest is the JSON body for accepting an offer or a bid.
type AcceptRequest struct {
	Trader    model.TraderInfo `json:"trader"`
	Energy    decimal.Decimal  `json:"energy,omitempty"`
	TradeRate decimal.Decimal  `json:"trade_rate,omitempty"`
}

// MatchRequest is the JSON body for an external matcher's batch.
type MatchRequest struct {
	Recommendations []model.BidOfferMatch `json:"recommendations"`
}

// ClearResponse is returned from a pay-as-clear run.
type ClearResponse struct {
	ClearingRate decimal.Decimal `json:"clearing_rate"`
	Trades       []*model.Trade  `json:"trades"`
}

// FutureSlotsRequest is the JSON body for opening future delivery slots.
type FutureSlotsRequest struct {
	Slots []time.Time `json:"slots"`
}

// FutureOrderRequest is an OrderRequest that must name its delivery slot.
type FutureOrderRequest struct {
	OrderRequest
	TimeSlot time.Time `json:"time_slot"`
}

// ExpireRequest is the JSON body for rotating expired future slots out.
type ExpireRequest struct {
	Cutoff time.Time `json:"cutoff"`
}

func feeKind(name string) (fees.Kind, bool) {
	switch name {
	case "", "constant":
		return fees.Constant, true
	case "percentage":
		return fees.Percentage, true
	}
	return 0, false
}

func feeKindName(k fees.Kind) string {
	if k == fees.Percentage {
		return "percentage"
	}
	return "constant"
}

func clearingMode(name string) (matching.ClearingRateMode, bool) {
	switch name {
	case "", "bid":
		return matching.ClearingRateBid, true
	case "offer":
		return matching.ClearingRateOffer, true
	case "midpoint":
		return matching.ClearingRateMidpoint, true
	}
	return 0, false
}

func clearingModeName(m matching.ClearingRateMode) string {
	switch m {
	case matching.ClearingRateOffer:
		return "offer"
	case matching.ClearingRateMidpoint:
		return "midpoint"
	}
	return "bid"
}

func marketView(m *market.Market) MarketView {
	cfg := m.Config()
	return MarketView{
		ID:           m.ID(),
		Name:         m.Name(),
		TimeSlot:     m.TimeSlot(),
		Open:         m.IsOpen(),
		FeeKind:      feeKindName(cfg.Fee.Kind),
		FeeRate:      cfg.Fee.Rate,
		ClearingRate: clearingModeName(cfg.ClearingRate),
	}
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	kind, ok := feeKind(req.FeeKind)
	if !ok {
		writeError(w, "fee_kind must be constant or percentage", http.StatusBadRequest)
		return
	}
	mode, ok := clearingMode(req.ClearingRate)
	if !ok {
		writeError(w, "clearing_rate must be bid, offer or midpoint", http.StatusBadRequest)
		return
	}

	slot := req.TimeSlot
	if slot.IsZero() {
		slot = time.Now().UTC().Truncate(15 * time.Minute)
	}

	m := s.registry.Open(market.Config{
		Name:         req.Name,
		TimeSlot:     slot,
		Fee:          fees.Config{Kind: kind, Rate: req.FeeRate},
		ClearingRate: mode,
	})
	m.AddListener(s.handleEvent)

	rec := &store.MarketRecord{
		ID:           m.ID(),
		Name:         m.Name(),
		TimeSlot:     m.TimeSlot(),
		FeeKind:      int(kind),
		FeeRate:      req.FeeRate,
		ClearingMode: int(mode),
		Status:       store.MarketOpen,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateMarket(r.Context(), rec); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	metrics.ActiveMarkets.Inc()

	slog.Info("market created",
		"id", m.ID(),
		"name", m.Name(),
		"time_slot", m.TimeSlot(),
		"fee_kind", feeKindName(kind),
		"fee_rate", req.FeeRate.String(),
	)

	writeJSON(w, http.StatusCreated, marketView(m))
}

// ListMarkets handles GET /api/v1/markets
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.registry.List()
	views := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, marketView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, marketView(m))
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if m.IsOpen() {
		m.Close()
		metrics.ActiveMarkets.Dec()
		if err := s.store.SetMarketStatus(r.Context(), m.ID(), store.MarketClosed); err != nil {
			slog.Error("persist market close failed", "id", m.ID(), "err", err)
		}
		slog.Info("market closed", "id", m.ID(), "name", m.Name())
	}
	writeJSON(w, http.StatusOK, marketView(m))
}

// GetStats handles GET /api/v1/markets/{marketID}/stats
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m.Stats())
}

// ListOffers handles GET /api/v1/markets/{marketID}/offers
func (s *Service) ListOffers(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	offers := m.SortedOffers()
	if offers == nil {
		offers = []*model.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// ListBids handles GET /api/v1/markets/{marketID}/bids
func (s *Service) ListBids(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	bids := m.SortedBids()
	if bids == nil {
		bids = []*model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// PostOffer handles POST /api/v1/markets/{marketID}/offers
func (s *Service) PostOffer(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader.Name == "" {
		writeError(w, "trader name is required", http.StatusBadRequest)
		return
	}

	offer, err := m.PostOffer(market.OrderSpec{
		ID:            req.ID,
		Price:         req.Price,
		Energy:        req.Energy,
		Trader:        req.Trader,
		OriginalPrice: req.OriginalPrice,
		TimeSlot:      req.TimeSlot,
		Attributes:    req.Attributes,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// PostBid handles POST /api/v1/markets/{marketID}/bids
func (s *Service) PostBid(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader.Name == "" {
		writeError(w, "trader name is required", http.StatusBadRequest)
		return
	}

	bid, err := m.PostBid(market.OrderSpec{
		ID:            req.ID,
		Price:         req.Price,
		Energy:        req.Energy,
		Trader:        req.Trader,
		OriginalPrice: req.OriginalPrice,
		TimeSlot:      req.TimeSlot,
		Attributes:    req.Attributes,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// DeleteOffer handles DELETE /api/v1/markets/{marketID}/offers/{offerID}
func (s *Service) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if err := m.DeleteOffer(chi.URLParam(r, "offerID")); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteBid handles DELETE /api/v1/markets/{marketID}/bids/{bidID}
func (s *Service) DeleteBid(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if err := m.DeleteBid(chi.URLParam(r, "bidID")); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptOffer handles POST /api/v1/markets/{marketID}/offers/{offerID}/accept
func (s *Service) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader.Name == "" {
		writeError(w, "trader name is required", http.StatusBadRequest)
		return
	}

	trade, err := m.AcceptOffer(chi.URLParam(r, "offerID"), req.Trader, market.TradeSpec{
		Energy:    req.Energy,
		TradeRate: req.TradeRate,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// AcceptBid handles POST /api/v1/markets/{marketID}/bids/{bidID}/accept
func (s *Service) AcceptBid(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	var req AcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader.Name == "" {
		writeError(w, "trader name is required", http.StatusBadRequest)
		return
	}

	trade, err := m.AcceptBid(chi.URLParam(r, "bidID"), req.Trader, market.TradeSpec{
		Energy:    req.Energy,
		TradeRate: req.TradeRate,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// MatchRecommendations handles POST /api/v1/markets/{marketID}/match
// Executes an external matcher's batch and returns the per-item verdicts.
func (s *Service) MatchRecommendations(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result := m.MatchRecommendations(req.Recommendations)
	metrics.MatchLatency.Observe(time.Since(start).Seconds())

	for _, item := range result.Results {
		if item.Status != "success" {
			metrics.RecommendationFailures.Inc()
		}
	}

	status := http.StatusOK
	if result.Status != "success" {
		metrics.RecommendationFailures.Inc()
		status = http.StatusBadRequest
		if result.Message == market.ErrReadOnly.Error() {
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, result)
}

// ClearMarket handles POST /api/v1/markets/{marketID}/clear
// Runs the pay-as-clear policy over the current book.
func (s *Service) ClearMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	start := time.Now()
	trades, clearingRate, err := m.Clear()
	metrics.MatchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if trades == nil {
		trades = []*model.Trade{}
	}

	slog.Info("market cleared",
		"id", m.ID(),
		"trades", len(trades),
		"clearing_rate", clearingRate.String(),
	)
	writeJSON(w, http.StatusOK, ClearResponse{ClearingRate: clearingRate, Trades: trades})
}

// GetTrades handles GET /api/v1/markets/{marketID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.Get(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	trades := m.Trades()
	if trades == nil {
		trades = []*model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history
// Returns the persisted order placements of a market.
func (s *Service) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.OrdersByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to get market history", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []store.OrderRecord{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetTraderSummary handles GET /api/v1/traders/{trader}/summary
func (s *Service) GetTraderSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.GetTraderSummary(r.Context(), chi.URLParam(r, "trader"))
	if err != nil {
		writeError(w, "failed to load trader summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetTraderTrades handles GET /api/v1/traders/{trader}/trades
func (s *Service) GetTraderTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.TradesByTrader(r.Context(), chi.URLParam(r, "trader"))
	if err != nil {
		writeError(w, "failed to load trader trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []store.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Future market handlers ---

// CreateFutureSlots handles POST /api/v1/future/slots
func (s *Service) CreateFutureSlots(w http.ResponseWriter, r *http.Request) {
	var req FutureSlotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Slots) == 0 {
		writeError(w, "slots is required", http.StatusBadRequest)
		return
	}
	s.futures.CreateSlots(req.Slots...)
	writeJSON(w, http.StatusCreated, map[string][]time.Time{"slots": s.futures.Slots()})
}

// ListFutureSlots handles GET /api/v1/future/slots
func (s *Service) ListFutureSlots(w http.ResponseWriter, r *http.Request) {
	slots := s.futures.Slots()
	if slots == nil {
		slots = []time.Time{}
	}
	writeJSON(w, http.StatusOK, map[string][]time.Time{"slots": slots})
}

// GetFutureOrders handles GET /api/v1/future/orders
func (s *Service) GetFutureOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.futures.OrdersPerSlot()
	if orders == nil {
		orders = []market.SlotOrders{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// PostFutureOffer handles POST /api/v1/future/offers
func (s *Service) PostFutureOffer(w http.ResponseWriter, r *http.Request) {
	var req FutureOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader.Name == "" {
		writeError(w, "trader name is required", http.StatusBadRequest)
		return
	}

	offer, err := s.futures.PostOffer(req.TimeSlot, market.OrderSpec{
		ID:            req.ID,
		Price:         req.Price,
		Energy:        req.Energy,
		Trader:        req.Trader,
		OriginalPrice: req.OriginalPrice,
		Attributes:    req.Attributes,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// PostFutureBid handles POST /api/v1/future/bids
func (s *Service) PostFutureBid(w http.ResponseWriter, r *http.Request) {
	var req FutureOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Trader.Name == "" {
		writeError(w, "trader name is required", http.StatusBadRequest)
		return
	}

	bid, err := s.futures.PostBid(req.TimeSlot, market.OrderSpec{
		ID:            req.ID,
		Price:         req.Price,
		Energy:        req.Energy,
		Trader:        req.Trader,
		OriginalPrice: req.OriginalPrice,
		Attributes:    req.Attributes,
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// ExpireFutureSlots handles POST /api/v1/future/expire
// Rotates out every slot at or before the cutoff.
func (s *Service) ExpireFutureSlots(w http.ResponseWriter, r *http.Request) {
	var req ExpireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Cutoff.IsZero() {
		writeError(w, "cutoff is required", http.StatusBadRequest)
		return
	}
	removed := s.futures.DeleteOrdersBefore(req.Cutoff)
	slog.Info("future slots expired", "cutoff", req.Cutoff, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// --- Helpers ---

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownMarket),
		errors.Is(err, market.ErrUnknownTimeSlot),
		errors.Is(err, orderbook.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrReadOnly),
		errors.Is(err, market.ErrInvalidTrade),
		errors.Is(err, matching.ErrInvalidBidOfferPair):
		return http.StatusConflict
	case errors.Is(err, orderbook.ErrNegativeEnergy),
		errors.Is(err, orderbook.ErrNegativePrice),
		errors.Is(err, orderbook.ErrInvalidSplit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrMalformedMatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
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
