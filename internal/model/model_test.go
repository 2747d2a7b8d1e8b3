package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestOffer_EnergyRate(t *testing.T) {
	o := model.Offer{Price: d(10), Energy: d(4)}
	if !o.EnergyRate().Equal(d(2.5)) {
		t.Errorf("rate = %s, want 2.5", o.EnergyRate())
	}
}

func TestEnergyEqual_Tolerance(t *testing.T) {
	a := d(5)
	b := a.Add(decimal.New(1, -9)) // inside the 1e-8 tolerance
	if !model.EnergyEqual(a, b) {
		t.Error("values inside tolerance must compare equal")
	}
	if model.EnergyEqual(a, a.Add(d(0.001))) {
		t.Error("values outside tolerance must not compare equal")
	}
}

func TestTrade_RoundTrip(t *testing.T) {
	slot := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trade := model.Trade{
		ID:   "t1",
		Time: slot,
		Offer: &model.Offer{
			ID:            "o1",
			Time:          slot,
			Price:         d(10),
			Energy:        d(5),
			Seller:        model.TraderInfo{Name: "pv", ID: "pv-1"},
			OriginalPrice: d(10),
			TimeSlot:      slot,
		},
		Seller:       model.TraderInfo{Name: "pv", ID: "pv-1"},
		Buyer:        model.TraderInfo{Name: "load", ID: "load-1"},
		TradedEnergy: d(5),
		TradePrice:   d(10),
		FeePrice:     d(0.5),
		TimeSlot:     slot,
		MatchInfo: &model.TradeBidOfferInfo{
			OriginalOfferRate:   d(2),
			PropagatedOfferRate: d(2),
			TradeRate:           d(2),
		},
	}

	data, err := json.Marshal(trade)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var got model.Trade
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.ID != trade.ID || !got.Time.Equal(trade.Time) {
		t.Error("identity fields must survive the round trip")
	}
	if !got.TradedEnergy.Equal(trade.TradedEnergy) || !got.TradePrice.Equal(trade.TradePrice) {
		t.Error("quantities must survive the round trip")
	}
	if got.Offer == nil || got.Offer.ID != "o1" || !got.Offer.Price.Equal(d(10)) {
		t.Error("embedded offer must survive the round trip")
	}
	if got.MatchInfo == nil || !got.MatchInfo.TradeRate.Equal(d(2)) {
		t.Error("match info must survive the round trip")
	}
	if got.Bid != nil || got.ResidualOffer != nil {
		t.Error("absent fields must stay absent")
	}
}
