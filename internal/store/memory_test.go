package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedMarket(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateMarket(context.Background(), &store.MarketRecord{
		ID:        id,
		Name:      "house",
		TimeSlot:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		FeeRate:   d(0.5),
		Status:    store.MarketOpen,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed market failed: %v", err)
	}
}

func TestMemoryStore_MarketLifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")

	if err := ms.CreateMarket(ctx, &store.MarketRecord{ID: "m1"}); err == nil {
		t.Error("duplicate market id must be rejected")
	}

	m, err := ms.GetMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if m.Status != store.MarketOpen {
		t.Errorf("status = %s, want OPEN", m.Status)
	}

	if err := ms.SetMarketStatus(ctx, "m1", store.MarketClosed); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	m, _ = ms.GetMarket(ctx, "m1")
	if m.Status != store.MarketClosed {
		t.Errorf("status = %s, want CLOSED", m.Status)
	}

	if _, err := ms.GetMarket(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_TradeLedgerAndSummary(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1")

	trades := []store.TradeRecord{
		{ID: "t1", MarketID: "m1", Seller: "pv", Buyer: "load", Energy: d(5), Price: d(25), FeePrice: d(1)},
		{ID: "t2", MarketID: "m1", Seller: "pv", Buyer: "ess", Energy: d(3), Price: d(12), FeePrice: d(0.6)},
		{ID: "t3", MarketID: "m2", Seller: "ess", Buyer: "load", Energy: d(2), Price: d(11), FeePrice: d(0.4)},
	}
	for i := range trades {
		if err := ms.InsertTrade(ctx, &trades[i]); err != nil {
			t.Fatalf("insert trade failed: %v", err)
		}
	}

	byMarket, err := ms.TradesByMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("trades by market failed: %v", err)
	}
	if len(byMarket) != 2 {
		t.Errorf("expected 2 trades for m1, got %d", len(byMarket))
	}

	byTrader, err := ms.TradesByTrader(ctx, "load")
	if err != nil {
		t.Fatalf("trades by trader failed: %v", err)
	}
	if len(byTrader) != 2 {
		t.Errorf("expected 2 trades for load, got %d", len(byTrader))
	}

	summary, err := ms.GetTraderSummary(ctx, "pv")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.EnergySold.Equal(d(8)) {
		t.Errorf("energy sold = %s, want 8", summary.EnergySold)
	}
	// Earnings are net of fees: (25-1) + (12-0.6).
	if !summary.Earned.Equal(d(35.4)) {
		t.Errorf("earned = %s, want 35.4", summary.Earned)
	}
	if summary.TradeCount != 2 {
		t.Errorf("trade count = %d, want 2", summary.TradeCount)
	}

	ess, _ := ms.GetTraderSummary(ctx, "ess")
	if !ess.EnergyBought.Equal(d(3)) || !ess.EnergySold.Equal(d(2)) {
		t.Errorf("ess bought/sold = %s/%s, want 3/2", ess.EnergyBought, ess.EnergySold)
	}
}

func TestMemoryStore_OrderHistory(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	orders := []store.OrderRecord{
		{ID: "o1", MarketID: "m1", Side: store.SideOffer, Trader: "pv", Energy: d(5), Price: d(10)},
		{ID: "b1", MarketID: "m1", Side: store.SideBid, Trader: "load", Energy: d(5), Price: d(30)},
		{ID: "o2", MarketID: "m2", Side: store.SideOffer, Trader: "pv", Energy: d(2), Price: d(4)},
	}
	for i := range orders {
		if err := ms.InsertOrder(ctx, &orders[i]); err != nil {
			t.Fatalf("insert order failed: %v", err)
		}
	}

	got, err := ms.OrdersByMarket(ctx, "m1")
	if err != nil {
		t.Fatalf("orders by market failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders for m1, got %d", len(got))
	}
	if got[0].ID != "o1" || got[1].ID != "b1" {
		t.Error("orders must come back in insertion order")
	}
}
