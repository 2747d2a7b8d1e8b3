// Package market implements the aggregate root of the matching and
// settlement engine: one Market owns the order book and running statistics
// for a single traded time slot, executes validated match recommendations
// atomically, and dispatches notification events to its listeners.
//
// The engine itself is sequential; the per-market mutex only serializes
// access from concurrent I/O callers (HTTP handlers, external matcher
// callbacks). No listener is ever invoked while the lock is held.
package market

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/fees"
	"github.com/emx/market-engine/internal/matching"
	"github.com/emx/market-engine/internal/model"
	"github.com/emx/market-engine/internal/orderbook"
)

// OrderSpec carries the caller-supplied fields of a new offer or bid.
// Zero-valued optional fields fall back to their defaults: OriginalPrice to
// Price, TimeSlot to the market's slot, ID to a fresh uuid.
type OrderSpec struct {
	ID            string
	Price         decimal.Decimal
	Energy        decimal.Decimal
	Trader        model.TraderInfo
	OriginalPrice decimal.Decimal
	TimeSlot      time.Time
	Attributes    map[string]any
	Requirements  []map[string]any
}

// TradeSpec carries the optional parameters of a direct acceptance. A zero
// Energy means the order's full energy; a zero TradeRate means the order's
// own rate; a nil Info is derived from the order being accepted.
type TradeSpec struct {
	Energy    decimal.Decimal
	TradeRate decimal.Decimal
	Info      *model.TradeBidOfferInfo
}

// Market is the aggregate root for one traded time slot.
type Market struct {
	id   string
	name string
	slot time.Time
	cfg  Config

	mu       sync.Mutex
	book     *orderbook.Book
	fee      fees.Policy
	readonly bool
	now      time.Time

	listeners []model.Listener

	accumulatedTradeEnergy decimal.Decimal
	accumulatedTradePrice  decimal.Decimal
	marketFee              decimal.Decimal
	minTradeRate           decimal.Decimal
	maxTradeRate           decimal.Decimal
	hasTrades              bool
}

// Open creates a market for the configured time slot, ready for trading.
func Open(cfg Config) *Market {
	return &Market{
		id:   uuid.New().String(),
		name: cfg.Name,
		slot: cfg.TimeSlot,
		cfg:  cfg,
		book: orderbook.New(),
		fee:  fees.New(cfg.Fee),
		now:  cfg.TimeSlot,
	}
}

// ID returns the market's unique id.
func (m *Market) ID() string { return m.id }

// Name returns the market's label.
func (m *Market) Name() string { return m.name }

// TimeSlot returns the delivery slot this market trades.
func (m *Market) TimeSlot() time.Time { return m.slot }

// FeePolicy returns the fee policy applied at this market boundary.
func (m *Market) FeePolicy() fees.Policy { return m.fee }

// Config returns the configuration the market was opened with.
func (m *Market) Config() Config { return m.cfg }

// AddListener appends a subscriber to the ordered listener list. Listeners
// are invoked after the market lock is released.
func (m *Market) AddListener(l model.Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Tick updates the market clock. Reserved hook: the engine has no autonomous
// time-based behavior.
func (m *Market) Tick(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Close transitions the market to its read-only state. Idempotent and
// irreversible; every subsequent mutation fails with ErrReadOnly.
func (m *Market) Close() {
	m.mu.Lock()
	m.readonly = true
	m.mu.Unlock()
}

// IsOpen reports whether the market still accepts mutations.
func (m *Market) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.readonly
}

// PostOffer places a sell order. The incoming price is adjusted with this
// market's grid fee before insertion.
func (m *Market) PostOffer(spec OrderSpec) (*model.Offer, error) {
	m.mu.Lock()
	offer, events, err := m.postOfferLocked(spec)
	listeners := m.copyListeners()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	dispatch(listeners, events)
	return offer.Clone(), nil
}

func (m *Market) postOfferLocked(spec OrderSpec) (*model.Offer, []model.Event, error) {
	if m.readonly {
		return nil, nil, ErrReadOnly
	}
	if spec.Energy.LessThanOrEqual(model.EnergyTolerance) {
		return nil, nil, orderbook.ErrNegativeEnergy
	}

	originalPrice := spec.OriginalPrice
	if originalPrice.IsZero() {
		originalPrice = spec.Price
	}

	rate := m.fee.ApplyToOfferRate(
		spec.Price.Div(spec.Energy), originalPrice.Div(spec.Energy))
	price := rate.Mul(spec.Energy)

	slot := spec.TimeSlot
	if slot.IsZero() {
		slot = m.slot
	}

	offer := &model.Offer{
		ID:            spec.ID,
		Time:          m.now,
		Price:         price,
		Energy:        spec.Energy,
		Seller:        spec.Trader,
		OriginalPrice: originalPrice,
		TimeSlot:      slot,
		Attributes:    spec.Attributes,
		Requirements:  spec.Requirements,
	}
	if err := m.book.InsertOffer(offer); err != nil {
		return nil, nil, err
	}

	slog.Debug("offer posted",
		"market", m.name, "id", offer.ID,
		"energy", offer.Energy.String(), "price", offer.Price.String())
	return offer, []model.Event{{Type: model.EventOffer, MarketID: m.id, Offer: offer.Clone()}}, nil
}

// PostBid places a buy order. The incoming price is adjusted with this
// market's grid fee before insertion.
func (m *Market) PostBid(spec OrderSpec) (*model.Bid, error) {
	m.mu.Lock()
	bid, events, err := m.postBidLocked(spec)
	listeners := m.copyListeners()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	dispatch(listeners, events)
	return bid.Clone(), nil
}

func (m *Market) postBidLocked(spec OrderSpec) (*model.Bid, []model.Event, error) {
	if m.readonly {
		return nil, nil, ErrReadOnly
	}
	if spec.Energy.LessThanOrEqual(model.EnergyTolerance) {
		return nil, nil, orderbook.ErrNegativeEnergy
	}

	originalPrice := spec.OriginalPrice
	if originalPrice.IsZero() {
		originalPrice = spec.Price
	}

	rate := m.fee.ApplyToBidRate(
		spec.Price.Div(spec.Energy), originalPrice.Div(spec.Energy))
	price := rate.Mul(spec.Energy)

	slot := spec.TimeSlot
	if slot.IsZero() {
		slot = m.slot
	}

	bid := &model.Bid{
		ID:            spec.ID,
		Time:          m.now,
		Price:         price,
		Energy:        spec.Energy,
		Buyer:         spec.Trader,
		OriginalPrice: originalPrice,
		TimeSlot:      slot,
		Attributes:    spec.Attributes,
		Requirements:  spec.Requirements,
	}
	if err := m.book.InsertBid(bid); err != nil {
		return nil, nil, err
	}

	slog.Debug("bid posted",
		"market", m.name, "id", bid.ID,
		"energy", bid.Energy.String(), "price", bid.Price.String())
	return bid, []model.Event{{Type: model.EventBid, MarketID: m.id, Bid: bid.Clone()}}, nil
}

// DeleteOffer cancels a live offer.
func (m *Market) DeleteOffer(id string) error {
	m.mu.Lock()
	if m.readonly {
		m.mu.Unlock()
		return ErrReadOnly
	}
	offer, err := m.book.RemoveOffer(id)
	listeners := m.copyListeners()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	slog.Debug("offer deleted", "market", m.name, "id", id)
	dispatch(listeners, []model.Event{{Type: model.EventOfferDeleted, MarketID: m.id, Offer: offer}})
	return nil
}

// DeleteBid cancels a live bid.
func (m *Market) DeleteBid(id string) error {
	m.mu.Lock()
	if m.readonly {
		m.mu.Unlock()
		return ErrReadOnly
	}
	bid, err := m.book.RemoveBid(id)
	listeners := m.copyListeners()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	slog.Debug("bid deleted", "market", m.name, "id", id)
	dispatch(listeners, []model.Event{{Type: model.EventBidDeleted, MarketID: m.id, Bid: bid}})
	return nil
}

// AcceptOffer executes a buyer-initiated trade against a live offer. A
// partial acceptance splits the offer first; the accepted piece keeps the
// offer's id and the residual stays live under a fresh id.
func (m *Market) AcceptOffer(offerID string, buyer model.TraderInfo, spec TradeSpec) (*model.Trade, error) {
	m.mu.Lock()
	trade, events, err := m.acceptOfferLocked(offerID, buyer, spec)
	listeners := m.copyListeners()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	dispatch(listeners, events)
	return trade, nil
}

func (m *Market) acceptOfferLocked(offerID string, buyer model.TraderInfo, spec TradeSpec) (*model.Trade, []model.Event, error) {
	if m.readonly {
		return nil, nil, ErrReadOnly
	}
	offer, ok := m.book.Offer(offerID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: offer %s", orderbook.ErrNotFound, offerID)
	}

	energy := spec.Energy
	if energy.IsZero() || model.EnergyEqual(energy, offer.Energy) {
		energy = offer.Energy
	}
	if energy.LessThanOrEqual(decimal.Zero) {
		return nil, nil, fmt.Errorf("%w: energy must be positive", ErrInvalidTrade)
	}
	if energy.GreaterThan(offer.Energy.Add(model.EnergyTolerance)) {
		return nil, nil, fmt.Errorf("%w: energy %s exceeds offered energy %s",
			ErrInvalidTrade, energy, offer.Energy)
	}

	tradeRate := spec.TradeRate
	if tradeRate.IsZero() {
		tradeRate = offer.EnergyRate()
	}

	var events []model.Event
	var residual *model.Offer
	consumed := offer

	if energy.LessThan(offer.Energy) {
		accepted, res, err := m.book.SplitOffer(offerID, energy, offer.OriginalPrice)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, model.Event{
			Type:     model.EventOfferSplit,
			MarketID: m.id,
			Original: offer.Clone(),
			Accepted: accepted.Clone(),
			Residual: res.Clone(),
		})
		consumed = accepted
		residual = res
	}
	if _, err := m.book.RemoveOffer(consumed.ID); err != nil {
		return nil, nil, err
	}

	info := spec.Info
	if info == nil {
		info = &model.TradeBidOfferInfo{
			OriginalOfferRate:   offer.OriginalRate(),
			PropagatedOfferRate: offer.EnergyRate(),
			TradeRate:           tradeRate,
		}
	}
	_, feeRate, finalRate := m.fee.TradePriceAndFees(*info)
	feePrice := feeRate.Mul(energy)
	tradePrice := finalRate.Mul(energy)

	tradedOffer := consumed.Clone()
	tradedOffer.Price = tradePrice

	trade := &model.Trade{
		ID:           uuid.New().String(),
		Time:         m.now,
		Offer:        tradedOffer,
		Seller:       offer.Seller,
		Buyer:        buyer,
		TradedEnergy: energy,
		TradePrice:   tradePrice,
		FeePrice:     feePrice,
		TimeSlot:     offer.TimeSlot,
		MatchInfo:    info,
	}
	if residual != nil {
		trade.ResidualOffer = residual.Clone()
	}

	m.recordTrade(trade, finalRate)
	slog.Info("offer traded",
		"market", m.name, "trade", trade.ID, "offer", offerID,
		"energy", energy.String(), "price", tradePrice.String())
	events = append(events, model.Event{Type: model.EventOfferTraded, MarketID: m.id, Trade: trade})
	return trade, events, nil
}

// AcceptBid executes a seller-initiated trade against a live bid.
func (m *Market) AcceptBid(bidID string, seller model.TraderInfo, spec TradeSpec) (*model.Trade, error) {
	m.mu.Lock()
	trade, events, err := m.acceptBidLocked(bidID, seller, spec)
	listeners := m.copyListeners()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	dispatch(listeners, events)
	return trade, nil
}

func (m *Market) acceptBidLocked(bidID string, seller model.TraderInfo, spec TradeSpec) (*model.Trade, []model.Event, error) {
	if m.readonly {
		return nil, nil, ErrReadOnly
	}
	bid, ok := m.book.Bid(bidID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: bid %s", orderbook.ErrNotFound, bidID)
	}

	energy := spec.Energy
	if energy.IsZero() || model.EnergyEqual(energy, bid.Energy) {
		energy = bid.Energy
	}
	if energy.LessThanOrEqual(decimal.Zero) {
		return nil, nil, fmt.Errorf("%w: energy must be positive", ErrInvalidTrade)
	}
	if energy.GreaterThan(bid.Energy.Add(model.EnergyTolerance)) {
		return nil, nil, fmt.Errorf("%w: energy %s exceeds bid energy %s",
			ErrInvalidTrade, energy, bid.Energy)
	}

	tradeRate := spec.TradeRate
	if tradeRate.IsZero() {
		tradeRate = bid.EnergyRate()
	}

	var events []model.Event
	var residual *model.Bid
	consumed := bid

	if energy.LessThan(bid.Energy) {
		accepted, res, err := m.book.SplitBid(bidID, energy, bid.OriginalPrice)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, model.Event{
			Type:        model.EventBidSplit,
			MarketID:    m.id,
			OriginalBid: bid.Clone(),
			AcceptedBid: accepted.Clone(),
			ResidualBid: res.Clone(),
		})
		consumed = accepted
		residual = res
	}
	if _, err := m.book.RemoveBid(consumed.ID); err != nil {
		return nil, nil, err
	}

	info := spec.Info
	if info == nil {
		info = &model.TradeBidOfferInfo{
			OriginalBidRate:   bid.OriginalRate(),
			PropagatedBidRate: bid.EnergyRate(),
			TradeRate:         tradeRate,
		}
	}
	_, feeRate, finalRate := m.fee.TradePriceAndFees(*info)
	feePrice := feeRate.Mul(energy)
	tradePrice := finalRate.Mul(energy)

	tradedBid := consumed.Clone()
	tradedBid.Price = tradePrice

	trade := &model.Trade{
		ID:           uuid.New().String(),
		Time:         m.now,
		Bid:          tradedBid,
		Seller:       seller,
		Buyer:        bid.Buyer,
		TradedEnergy: energy,
		TradePrice:   tradePrice,
		FeePrice:     feePrice,
		TimeSlot:     bid.TimeSlot,
		MatchInfo:    info,
	}
	if residual != nil {
		trade.ResidualBid = residual.Clone()
	}

	m.recordTrade(trade, finalRate)
	slog.Info("bid traded",
		"market", m.name, "trade", trade.ID, "bid", bidID,
		"energy", energy.String(), "price", tradePrice.String())
	events = append(events, model.Event{Type: model.EventBidTraded, MarketID: m.id, Trade: trade})
	return trade, events, nil
}

// executeMatchLocked performs the atomic state transition for one validated
// bid/offer recommendation: both splits happen before either removal, the
// trade is recorded once, and the events carry every piece.
func (m *Market) executeMatchLocked(rec matching.Recommendation) (*model.Trade, []model.Event, error) {
	bid, ok := m.book.Bid(rec.BidID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: bid %s", orderbook.ErrNotFound, rec.BidID)
	}
	offer, ok := m.book.Offer(rec.OfferID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: offer %s", orderbook.ErrNotFound, rec.OfferID)
	}

	energy := rec.SelectedEnergy
	if energy.LessThanOrEqual(decimal.Zero) {
		return nil, nil, fmt.Errorf("%w: energy must be positive", ErrInvalidTrade)
	}
	if energy.GreaterThan(bid.Energy.Add(model.EnergyTolerance)) {
		return nil, nil, fmt.Errorf("%w: selected energy %s exceeds bid energy %s",
			ErrInvalidTrade, energy, bid.Energy)
	}
	if energy.GreaterThan(offer.Energy.Add(model.EnergyTolerance)) {
		return nil, nil, fmt.Errorf("%w: selected energy %s exceeds offered energy %s",
			ErrInvalidTrade, energy, offer.Energy)
	}
	// Snap in-tolerance overage to the orders' exact remaining energy.
	energy = decimal.Min(energy, bid.Energy, offer.Energy)
	if err := matching.ValidatePair(bid, offer, energy, rec.TradeRate); err != nil {
		return nil, nil, err
	}

	info := &model.TradeBidOfferInfo{
		OriginalBidRate:     bid.OriginalRate(),
		PropagatedBidRate:   bid.EnergyRate(),
		OriginalOfferRate:   offer.OriginalRate(),
		PropagatedOfferRate: offer.EnergyRate(),
		TradeRate:           rec.TradeRate,
	}

	var events []model.Event
	consumedBid, consumedOffer := bid, offer
	var residualBid *model.Bid
	var residualOffer *model.Offer

	// Both splits happen before either removal so that no partial state is
	// observable if one of them fails.
	if energy.LessThan(bid.Energy) && !model.EnergyEqual(energy, bid.Energy) {
		accepted, res, err := m.book.SplitBid(bid.ID, energy, bid.OriginalPrice)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, model.Event{
			Type:        model.EventBidSplit,
			MarketID:    m.id,
			OriginalBid: bid.Clone(),
			AcceptedBid: accepted.Clone(),
			ResidualBid: res.Clone(),
		})
		consumedBid, residualBid = accepted, res
	}
	if energy.LessThan(offer.Energy) && !model.EnergyEqual(energy, offer.Energy) {
		accepted, res, err := m.book.SplitOffer(offer.ID, energy, offer.OriginalPrice)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, model.Event{
			Type:     model.EventOfferSplit,
			MarketID: m.id,
			Original: offer.Clone(),
			Accepted: accepted.Clone(),
			Residual: res.Clone(),
		})
		consumedOffer, residualOffer = accepted, res
	}

	if _, err := m.book.RemoveBid(consumedBid.ID); err != nil {
		return nil, nil, err
	}
	if _, err := m.book.RemoveOffer(consumedOffer.ID); err != nil {
		return nil, nil, err
	}

	_, feeRate, finalRate := m.fee.TradePriceAndFees(*info)
	feePrice := feeRate.Mul(energy)
	tradePrice := finalRate.Mul(energy)

	tradedBid := consumedBid.Clone()
	tradedBid.Price = tradePrice
	tradedOffer := consumedOffer.Clone()
	tradedOffer.Price = tradePrice

	trade := &model.Trade{
		ID:           uuid.New().String(),
		Time:         m.now,
		Offer:        tradedOffer,
		Bid:          tradedBid,
		Seller:       offer.Seller,
		Buyer:        bid.Buyer,
		TradedEnergy: energy,
		TradePrice:   tradePrice,
		FeePrice:     feePrice,
		TimeSlot:     offer.TimeSlot,
		MatchInfo:    info,
	}
	if residualBid != nil {
		trade.ResidualBid = residualBid.Clone()
	}
	if residualOffer != nil {
		trade.ResidualOffer = residualOffer.Clone()
	}

	m.recordTrade(trade, finalRate)
	slog.Info("pair matched",
		"market", m.name, "trade", trade.ID,
		"bid", rec.BidID, "offer", rec.OfferID,
		"energy", energy.String(), "rate", rec.TradeRate.String())
	events = append(events,
		model.Event{Type: model.EventOfferTraded, MarketID: m.id, Trade: trade},
		model.Event{Type: model.EventBidTraded, MarketID: m.id, Trade: trade},
	)
	return trade, events, nil
}

// MatchRecommendations validates and executes a batch of externally supplied
// match recommendations. Schema errors abort the whole batch before any
// mutation; per-item errors — an unknown market or time slot, a stale or
// over-sized pair — mark that item failed and processing continues. Items are
// applied in order against the live book, so a recommendation may
// legitimately reference the residual created by an earlier one.
func (m *Market) MatchRecommendations(batch []model.BidOfferMatch) model.BatchResult {
	// Blocking schema validation first: a malformed batch performs nothing.
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return model.BatchResult{Status: "fail", Message: err.Error()}
		}
	}

	m.mu.Lock()
	if m.readonly {
		m.mu.Unlock()
		return model.BatchResult{Status: "fail", Message: ErrReadOnly.Error()}
	}

	results := make([]model.MatchResult, 0, len(batch))
	var events []model.Event
	// Consumed order id -> residual id, used to redirect later items in the
	// same batch at the live remainder of a partially filled order.
	residualBids := make(map[string]string)
	residualOffers := make(map[string]string)

	for _, rec := range batch {
		if rec.MarketID != m.id {
			results = append(results, model.MatchResult{
				BidOfferMatch: rec,
				Status:        "fail",
				Message:       fmt.Errorf("%w: %s", ErrUnknownMarket, rec.MarketID).Error(),
			})
			continue
		}
		if rec.TimeSlot != "" {
			ts, err := time.Parse(time.RFC3339, rec.TimeSlot)
			if err != nil || !ts.Equal(m.slot) {
				results = append(results, model.MatchResult{
					BidOfferMatch: rec,
					Status:        "fail",
					Message:       fmt.Errorf("%w: %s", ErrUnknownTimeSlot, rec.TimeSlot).Error(),
				})
				continue
			}
		}

		bidID := rec.Bid.ID
		for next, ok := residualBids[bidID]; ok; next, ok = residualBids[bidID] {
			bidID = next
		}
		offerID := rec.Offer.ID
		for next, ok := residualOffers[offerID]; ok; next, ok = residualOffers[offerID] {
			offerID = next
		}

		trade, evs, err := m.executeMatchLocked(matching.Recommendation{
			BidID:          bidID,
			OfferID:        offerID,
			SelectedEnergy: rec.SelectedEnergy,
			TradeRate:      rec.TradeRate,
		})
		result := model.MatchResult{BidOfferMatch: rec, Status: "success"}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
		} else {
			events = append(events, evs...)
			if trade.ResidualBid != nil {
				residualBids[bidID] = trade.ResidualBid.ID
			}
			if trade.ResidualOffer != nil {
				residualOffers[offerID] = trade.ResidualOffer.ID
			}
		}
		results = append(results, result)
	}
	listeners := m.copyListeners()
	m.mu.Unlock()

	dispatch(listeners, events)
	return model.BatchResult{Status: "success", Results: results}
}

// Clear runs the pay-as-clear policy over the current book and executes the
// resulting recommendations. Every trade of one clearing settles at the same
// uniform rate.
func (m *Market) Clear() ([]*model.Trade, decimal.Decimal, error) {
	m.mu.Lock()
	if m.readonly {
		m.mu.Unlock()
		return nil, decimal.Zero, ErrReadOnly
	}

	policy := matching.PayAsClear{Mode: m.cfg.ClearingRate}
	recs, clearingRate := policy.Match(m.book.SortedBids(), m.book.SortedOffers())

	var trades []*model.Trade
	var events []model.Event
	// A large order can appear in several recommendations of one clearing;
	// later ones must consume the residual of the earlier split.
	residualBids := make(map[string]string)
	residualOffers := make(map[string]string)
	for _, rec := range recs {
		for next, ok := residualBids[rec.BidID]; ok; next, ok = residualBids[rec.BidID] {
			rec.BidID = next
		}
		for next, ok := residualOffers[rec.OfferID]; ok; next, ok = residualOffers[rec.OfferID] {
			rec.OfferID = next
		}
		trade, evs, err := m.executeMatchLocked(rec)
		if err != nil {
			// The policy only recommends feasible pairs against the
			// same snapshot it cleared, so this is an engine defect.
			// Trades already committed to the book still notify
			// listeners.
			listeners := m.copyListeners()
			m.mu.Unlock()
			dispatch(listeners, events)
			return trades, clearingRate, err
		}
		trades = append(trades, trade)
		events = append(events, evs...)
		if trade.ResidualBid != nil {
			residualBids[rec.BidID] = trade.ResidualBid.ID
		}
		if trade.ResidualOffer != nil {
			residualOffers[rec.OfferID] = trade.ResidualOffer.ID
		}
	}
	listeners := m.copyListeners()
	m.mu.Unlock()

	dispatch(listeners, events)
	return trades, clearingRate, nil
}

func (m *Market) recordTrade(trade *model.Trade, tradeRate decimal.Decimal) {
	m.book.AppendTrade(trade)
	m.accumulatedTradeEnergy = m.accumulatedTradeEnergy.Add(trade.TradedEnergy)
	m.accumulatedTradePrice = m.accumulatedTradePrice.Add(trade.TradePrice)
	m.marketFee = m.marketFee.Add(trade.FeePrice)

	rate := tradeRate.Round(model.RateScale)
	if !m.hasTrades {
		m.minTradeRate, m.maxTradeRate = rate, rate
		m.hasTrades = true
		return
	}
	if rate.LessThan(m.minTradeRate) {
		m.minTradeRate = rate
	}
	if rate.GreaterThan(m.maxTradeRate) {
		m.maxTradeRate = rate
	}
}

func (m *Market) copyListeners() []model.Listener {
	out := make([]model.Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func dispatch(listeners []model.Listener, events []model.Event) {
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}

// --- Read accessors ---

// Offers returns an independent copy of the live offer mapping.
func (m *Market) Offers() map[string]*model.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Offers()
}

// Bids returns an independent copy of the live bid mapping.
func (m *Market) Bids() map[string]*model.Bid {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Bids()
}

// SortedOffers returns the live offers sorted by ascending rate.
func (m *Market) SortedOffers() []*model.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.SortedOffers()
}

// SortedBids returns the live bids sorted by descending rate.
func (m *Market) SortedBids() []*model.Bid {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.SortedBids()
}

// Trades returns the trades executed so far, in execution order.
func (m *Market) Trades() []*model.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Trades()
}

// OfferHistory returns every offer ever posted.
func (m *Market) OfferHistory() []*model.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.OfferHistory()
}

// BidHistory returns every bid ever posted.
func (m *Market) BidHistory() []*model.Bid {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.BidHistory()
}

// Stats is a snapshot of the market's running trade statistics.
type Stats struct {
	AccumulatedTradeEnergy decimal.Decimal `json:"accumulated_trade_energy"`
	AccumulatedTradePrice  decimal.Decimal `json:"accumulated_trade_price"`
	MarketFee              decimal.Decimal `json:"market_fee"`
	AvgTradeRate           decimal.Decimal `json:"avg_trade_rate"`
	MinTradeRate           decimal.Decimal `json:"min_trade_rate"`
	MaxTradeRate           decimal.Decimal `json:"max_trade_rate"`
	TradeCount             int             `json:"trade_count"`
	OpenOffers             int             `json:"open_offers"`
	OpenBids               int             `json:"open_bids"`
}

// Stats returns the running accumulators for this market.
func (m *Market) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := decimal.Zero
	if !m.accumulatedTradeEnergy.IsZero() {
		avg = m.accumulatedTradePrice.Div(m.accumulatedTradeEnergy).Round(model.RateScale)
	}
	return Stats{
		AccumulatedTradeEnergy: m.accumulatedTradeEnergy,
		AccumulatedTradePrice:  m.accumulatedTradePrice,
		MarketFee:              m.marketFee,
		AvgTradeRate:           avg,
		MinTradeRate:           m.minTradeRate,
		MaxTradeRate:           m.maxTradeRate,
		TradeCount:             len(m.book.Trades()),
		OpenOffers:             m.book.OpenOfferCount(),
		OpenBids:               m.book.OpenBidCount(),
	}
}
