package market_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/fees"
	"github.com/emx/market-engine/internal/market"
	"github.com/emx/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var slot = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMarket(t *testing.T) *market.Market {
	t.Helper()
	return market.Open(market.Config{Name: "house", TimeSlot: slot})
}

func seller(name string) model.TraderInfo { return model.TraderInfo{Name: name} }

func postOffer(t *testing.T, m *market.Market, price, energy float64) *model.Offer {
	t.Helper()
	o, err := m.PostOffer(market.OrderSpec{
		Price:  d(price),
		Energy: d(energy),
		Trader: seller("pv"),
	})
	if err != nil {
		t.Fatalf("post offer failed: %v", err)
	}
	return o
}

func postBid(t *testing.T, m *market.Market, price, energy float64) *model.Bid {
	t.Helper()
	b, err := m.PostBid(market.OrderSpec{
		Price:  d(price),
		Energy: d(energy),
		Trader: seller("load"),
	})
	if err != nil {
		t.Fatalf("post bid failed: %v", err)
	}
	return b
}

// --- Posting ---

func TestPostOffer_StampsSlotAndID(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)

	if o.ID == "" {
		t.Error("expected generated id")
	}
	if !o.TimeSlot.Equal(slot) {
		t.Errorf("time slot = %v, want market slot", o.TimeSlot)
	}
	if len(m.Offers()) != 1 {
		t.Errorf("expected 1 live offer, got %d", len(m.Offers()))
	}
}

func TestPostOffer_ConstantFeeRaisesPrice(t *testing.T) {
	m := market.Open(market.Config{
		Name:     "grid",
		TimeSlot: slot,
		Fee:      fees.Config{Kind: fees.Constant, Rate: d(2)},
	})
	o, err := m.PostOffer(market.OrderSpec{
		Price:  d(10), // rate 2/kWh over 5 kWh
		Energy: d(5),
		Trader: seller("pv"),
	})
	if err != nil {
		t.Fatalf("post offer failed: %v", err)
	}
	// Rate 2 + fee 2 = 4; price 4*5 = 20. Original price untouched.
	if !o.Price.Equal(d(20)) {
		t.Errorf("adjusted price = %s, want 20", o.Price)
	}
	if !o.OriginalPrice.Equal(d(10)) {
		t.Errorf("original price = %s, want 10", o.OriginalPrice)
	}
}

func TestPostBid_ConstantFeeLowersPrice(t *testing.T) {
	m := market.Open(market.Config{
		Name:     "grid",
		TimeSlot: slot,
		Fee:      fees.Config{Kind: fees.Constant, Rate: d(2)},
	})
	b, err := m.PostBid(market.OrderSpec{
		Price:  d(50), // rate 10/kWh over 5 kWh
		Energy: d(5),
		Trader: seller("load"),
	})
	if err != nil {
		t.Fatalf("post bid failed: %v", err)
	}
	if !b.Price.Equal(d(40)) {
		t.Errorf("adjusted price = %s, want 40", b.Price)
	}
}

func TestReadOnly_RejectsWithoutSideEffects(t *testing.T) {
	m := newMarket(t)
	m.Close()

	if _, err := m.PostOffer(market.OrderSpec{Price: d(10), Energy: d(5), Trader: seller("pv")}); !errors.Is(err, market.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if _, err := m.PostBid(market.OrderSpec{Price: d(10), Energy: d(5), Trader: seller("load")}); !errors.Is(err, market.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if err := m.DeleteOffer("any"); !errors.Is(err, market.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if len(m.Offers()) != 0 || len(m.OfferHistory()) != 0 {
		t.Error("rejected calls must leave no trace")
	}
}

func TestClose_Idempotent(t *testing.T) {
	m := newMarket(t)
	m.Close()
	m.Close()
	if m.IsOpen() {
		t.Error("market must stay closed")
	}
}

// --- Direct acceptance ---

func TestAcceptOffer_FullConsumption(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)

	trade, err := m.AcceptOffer(o.ID, seller("load"), market.TradeSpec{})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !trade.TradedEnergy.Equal(d(5)) {
		t.Errorf("traded energy = %s, want 5", trade.TradedEnergy)
	}
	if !trade.TradePrice.Equal(d(10)) {
		t.Errorf("trade price = %s, want 10", trade.TradePrice)
	}
	if trade.ResidualOffer != nil {
		t.Error("full consumption must not leave a residual")
	}
	if len(m.Offers()) != 0 {
		t.Error("offer must be gone from the live book")
	}
	if len(m.Trades()) != 1 {
		t.Errorf("expected 1 trade, got %d", len(m.Trades()))
	}
}

func TestAcceptOffer_PartialLeavesResidual(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)

	trade, err := m.AcceptOffer(o.ID, seller("load"), market.TradeSpec{Energy: d(2)})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if trade.ResidualOffer == nil {
		t.Fatal("expected a residual offer")
	}
	if !trade.ResidualOffer.Energy.Equal(d(3)) {
		t.Errorf("residual energy = %s, want 3", trade.ResidualOffer.Energy)
	}
	// The traded piece keeps the original id; the residual lives on under
	// a new one.
	if trade.Offer.ID != o.ID {
		t.Error("traded piece must keep the accepted offer's id")
	}
	live := m.Offers()
	if len(live) != 1 {
		t.Fatalf("expected 1 live offer, got %d", len(live))
	}
	if _, ok := live[trade.ResidualOffer.ID]; !ok {
		t.Error("residual must stay in the live book")
	}
}

func TestAcceptOffer_EnergyOverAsk(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)

	_, err := m.AcceptOffer(o.ID, seller("load"), market.TradeSpec{Energy: d(6)})
	if !errors.Is(err, market.ErrInvalidTrade) {
		t.Errorf("expected ErrInvalidTrade, got %v", err)
	}
	if len(m.Offers()) != 1 {
		t.Error("failed acceptance must leave the offer live")
	}
}

func TestAcceptBid_FullConsumption(t *testing.T) {
	m := newMarket(t)
	b := postBid(t, m, 50, 5)

	trade, err := m.AcceptBid(b.ID, seller("pv"), market.TradeSpec{})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !trade.TradedEnergy.Equal(d(5)) {
		t.Errorf("traded energy = %s, want 5", trade.TradedEnergy)
	}
	if trade.Buyer.Name != "load" || trade.Seller.Name != "pv" {
		t.Errorf("counterparties wrong: %s sells to %s", trade.Seller.Name, trade.Buyer.Name)
	}
	if len(m.Bids()) != 0 {
		t.Error("bid must be gone from the live book")
	}
}

func TestAcceptBid_ExplicitTradeRate(t *testing.T) {
	m := newMarket(t)
	b := postBid(t, m, 12, 2) // rate 6

	trade, err := m.AcceptBid(b.ID, seller("pv"), market.TradeSpec{TradeRate: d(5)})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if !trade.TradedEnergy.Equal(d(2)) {
		t.Errorf("traded energy = %s, want 2", trade.TradedEnergy)
	}
	if !trade.TradePrice.Equal(d(10)) {
		t.Errorf("trade price = %s, want 10 at explicit rate 5", trade.TradePrice)
	}
	if trade.ResidualBid != nil {
		t.Error("full consumption must not leave a residual")
	}
}

func TestAcceptOffer_ConstantFeeOnSettlement(t *testing.T) {
	m := market.Open(market.Config{
		Name:     "grid",
		TimeSlot: slot,
		Fee:      fees.Config{Kind: fees.Constant, Rate: d(1)},
	})
	o, err := m.PostOffer(market.OrderSpec{Price: d(10), Energy: d(5), Trader: seller("pv")})
	if err != nil {
		t.Fatalf("post offer failed: %v", err)
	}

	// Offer entered at rate 2, adjusted to 3 by the fee.
	trade, err := m.AcceptOffer(o.ID, seller("load"), market.TradeSpec{})
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	// Fee of 1/kWh over 5 kWh.
	if !trade.FeePrice.Equal(d(5)) {
		t.Errorf("fee price = %s, want 5", trade.FeePrice)
	}
	if !trade.TradePrice.Equal(d(15)) {
		t.Errorf("trade price = %s, want 15", trade.TradePrice)
	}
}

// --- Statistics ---

func TestStats_Accumulators(t *testing.T) {
	m := newMarket(t)
	o1 := postOffer(t, m, 10, 5) // rate 2
	o2 := postOffer(t, m, 20, 5) // rate 4

	if _, err := m.AcceptOffer(o1.ID, seller("load"), market.TradeSpec{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AcceptOffer(o2.ID, seller("load"), market.TradeSpec{}); err != nil {
		t.Fatal(err)
	}

	stats := m.Stats()
	if !stats.AccumulatedTradeEnergy.Equal(d(10)) {
		t.Errorf("energy = %s, want 10", stats.AccumulatedTradeEnergy)
	}
	if !stats.AccumulatedTradePrice.Equal(d(30)) {
		t.Errorf("price = %s, want 30", stats.AccumulatedTradePrice)
	}
	if !stats.AvgTradeRate.Equal(d(3)) {
		t.Errorf("avg rate = %s, want 3", stats.AvgTradeRate)
	}
	if !stats.MinTradeRate.Equal(d(2)) || !stats.MaxTradeRate.Equal(d(4)) {
		t.Errorf("min/max = %s/%s, want 2/4", stats.MinTradeRate, stats.MaxTradeRate)
	}
	if stats.TradeCount != 2 {
		t.Errorf("trade count = %d, want 2", stats.TradeCount)
	}
}

// --- Events ---

func TestListeners_ReceiveLifecycleEvents(t *testing.T) {
	m := newMarket(t)
	var got []model.EventType
	m.AddListener(func(ev model.Event) { got = append(got, ev.Type) })

	o := postOffer(t, m, 10, 5)
	postBid(t, m, 8, 2)
	if _, err := m.AcceptOffer(o.ID, seller("load"), market.TradeSpec{Energy: d(2)}); err != nil {
		t.Fatal(err)
	}

	want := []model.EventType{
		model.EventOffer,
		model.EventBid,
		model.EventOfferSplit,
		model.EventOfferTraded,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

// --- Match recommendations ---

func pairMatch(m *market.Market, b *model.Bid, o *model.Offer, energy, rate float64) model.BidOfferMatch {
	return model.BidOfferMatch{
		MarketID:       m.ID(),
		Bid:            b,
		Offer:          o,
		TradeRate:      d(rate),
		SelectedEnergy: d(energy),
	}
}

func TestMatchRecommendations_ExecutesPair(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5) // rate 2
	b := postBid(t, m, 30, 5)   // rate 6

	result := m.MatchRecommendations([]model.BidOfferMatch{pairMatch(m, b, o, 5, 4)})
	if result.Status != "success" {
		t.Fatalf("batch failed: %s", result.Message)
	}
	if len(result.Results) != 1 || result.Results[0].Status != "success" {
		t.Fatalf("unexpected results: %+v", result.Results)
	}

	trades := m.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	trade := trades[0]
	if trade.Offer == nil || trade.Bid == nil {
		t.Fatal("pair trade must carry both sides")
	}
	if !trade.TradePrice.Equal(d(20)) {
		t.Errorf("trade price = %s, want 20", trade.TradePrice)
	}
	if len(m.Offers()) != 0 || len(m.Bids()) != 0 {
		t.Error("both orders must be consumed")
	}
}

func TestMatchRecommendations_MalformedAbortsBatch(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)
	b := postBid(t, m, 30, 5)

	good := pairMatch(m, b, o, 5, 4)
	bad := pairMatch(m, b, nil, 5, 4) // missing offer

	result := m.MatchRecommendations([]model.BidOfferMatch{good, bad})
	if result.Status != "fail" {
		t.Fatal("malformed batch must fail as a whole")
	}
	if len(result.Results) != 0 {
		t.Error("no item may execute when the schema check fails")
	}
	if len(m.Offers()) != 1 || len(m.Bids()) != 1 {
		t.Error("aborted batch must leave the book untouched")
	}
}

func TestMatchRecommendations_InfeasiblePairFailsItemOnly(t *testing.T) {
	m := newMarket(t)
	o1 := postOffer(t, m, 10, 5) // rate 2
	b1 := postBid(t, m, 30, 5)   // rate 6
	o2 := postOffer(t, m, 40, 5) // rate 8
	b2 := postBid(t, m, 20, 5)   // rate 4: cannot afford o2

	result := m.MatchRecommendations([]model.BidOfferMatch{
		pairMatch(m, b2, o2, 5, 6), // infeasible
		pairMatch(m, b1, o1, 5, 4), // fine
	})
	if result.Status != "success" {
		t.Fatalf("batch status = %s, want success", result.Status)
	}
	if result.Results[0].Status != "fail" {
		t.Error("infeasible pair must be marked failed")
	}
	if result.Results[1].Status != "success" {
		t.Errorf("feasible pair must still execute: %s", result.Results[1].Message)
	}
	if len(m.Trades()) != 1 {
		t.Errorf("expected 1 trade, got %d", len(m.Trades()))
	}
}

func TestMatchRecommendations_OverEnergyFailsItem(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 4, 2) // rate 2
	b := postBid(t, m, 12, 2)  // rate 6

	result := m.MatchRecommendations([]model.BidOfferMatch{pairMatch(m, b, o, 10, 4)})
	if result.Status != "success" {
		t.Fatalf("batch status = %s, want success", result.Status)
	}
	if result.Results[0].Status != "fail" {
		t.Error("selected energy beyond the orders' remaining energy must fail the item")
	}
	if len(m.Trades()) != 0 {
		t.Errorf("expected no trades, got %d", len(m.Trades()))
	}
	if len(m.Offers()) != 1 || len(m.Bids()) != 1 {
		t.Error("failed item must leave both orders live")
	}
}

func TestMatchRecommendations_WrongMarketFailsItem(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)
	b := postBid(t, m, 30, 5)

	rec := pairMatch(m, b, o, 5, 4)
	rec.MarketID = "some-other-market"

	result := m.MatchRecommendations([]model.BidOfferMatch{rec})
	if result.Status != "success" {
		t.Fatalf("batch status = %s, want success", result.Status)
	}
	if result.Results[0].Status != "fail" {
		t.Error("a recommendation for a different market must fail the item")
	}
	if len(m.Trades()) != 0 {
		t.Errorf("expected no trades, got %d", len(m.Trades()))
	}
}

func TestMatchRecommendations_TimeSlotChecked(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 10, 5)
	b := postBid(t, m, 30, 5)

	wrong := pairMatch(m, b, o, 2, 4)
	wrong.TimeSlot = slot.Add(15 * time.Minute).Format(time.RFC3339)
	right := pairMatch(m, b, o, 5, 4)
	right.TimeSlot = slot.Format(time.RFC3339)

	result := m.MatchRecommendations([]model.BidOfferMatch{wrong, right})
	if result.Results[0].Status != "fail" {
		t.Error("a recommendation for another slot must fail the item")
	}
	if result.Results[1].Status != "success" {
		t.Errorf("the market's own slot must pass: %s", result.Results[1].Message)
	}
	if len(m.Trades()) != 1 {
		t.Errorf("expected 1 trade, got %d", len(m.Trades()))
	}
}

func TestMatchRecommendations_ResidualRedirect(t *testing.T) {
	m := newMarket(t)
	o := postOffer(t, m, 20, 10) // rate 2
	b1 := postBid(t, m, 24, 4)   // rate 6
	b2 := postBid(t, m, 36, 6)   // rate 6

	// Both recommendations reference the same offer; the second must be
	// redirected at the residual the first one created.
	result := m.MatchRecommendations([]model.BidOfferMatch{
		pairMatch(m, b1, o, 4, 4),
		pairMatch(m, b2, o, 6, 4),
	})
	if result.Status != "success" {
		t.Fatalf("batch failed: %s", result.Message)
	}
	for i, item := range result.Results {
		if item.Status != "success" {
			t.Fatalf("item %d failed: %s", i, item.Message)
		}
	}
	if len(m.Offers()) != 0 {
		t.Error("offer must be fully consumed across both matches")
	}
	stats := m.Stats()
	if !stats.AccumulatedTradeEnergy.Equal(d(10)) {
		t.Errorf("traded energy = %s, want 10", stats.AccumulatedTradeEnergy)
	}
}

// --- Pay-as-clear ---

func TestClear_UniformRate(t *testing.T) {
	m := newMarket(t)
	postOffer(t, m, 10, 5)  // rate 2
	postOffer(t, m, 20, 5)  // rate 4
	postBid(t, m, 30, 5)    // rate 6
	postBid(t, m, 25, 5)    // rate 5

	trades, clearing, err := m.Clear()
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	// Default mode clears at the marginal bid rate.
	if !clearing.Equal(d(5)) {
		t.Errorf("clearing rate = %s, want 5", clearing)
	}
	for _, trade := range trades {
		if !trade.TradeRate().Equal(clearing) {
			t.Errorf("trade rate %s differs from clearing rate %s", trade.TradeRate(), clearing)
		}
	}
	stats := m.Stats()
	if !stats.MinTradeRate.Equal(stats.MaxTradeRate) {
		t.Error("uniform clearing must produce a single trade rate")
	}
}

func TestClear_PartialFillAcrossOffers(t *testing.T) {
	m := newMarket(t)
	postOffer(t, m, 8, 4)  // rate 2
	postOffer(t, m, 12, 4) // rate 3
	postBid(t, m, 30, 6)   // rate 5

	trades, clearing, err := m.Clear()
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if !clearing.Equal(d(5)) {
		t.Errorf("clearing rate = %s, want 5", clearing)
	}
	stats := m.Stats()
	if !stats.AccumulatedTradeEnergy.Equal(d(6)) {
		t.Errorf("traded energy = %s, want 6", stats.AccumulatedTradeEnergy)
	}
	if len(m.Bids()) != 0 {
		t.Error("bid must be fully consumed across both offers")
	}
	if len(m.Offers()) != 1 {
		t.Errorf("expected the second offer's residual to stay live, got %d", len(m.Offers()))
	}
}

func TestClear_NotifiesListeners(t *testing.T) {
	m := newMarket(t)
	postOffer(t, m, 10, 5) // rate 2
	postBid(t, m, 30, 5)   // rate 6

	var traded int
	m.AddListener(func(ev model.Event) {
		if ev.Type == model.EventOfferTraded {
			traded++
		}
	})

	if _, _, err := m.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if traded != 1 {
		t.Errorf("expected 1 offer-traded event, got %d", traded)
	}
}

func TestClear_ReadOnly(t *testing.T) {
	m := newMarket(t)
	m.Close()
	if _, _, err := m.Clear(); !errors.Is(err, market.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}
