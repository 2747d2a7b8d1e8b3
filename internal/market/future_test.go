package market_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/market"
)

func futureSlots() []time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []time.Time{base, base.Add(15 * time.Minute), base.Add(30 * time.Minute)}
}

func TestCreateSlots_Idempotent(t *testing.T) {
	f := market.NewFutureMarkets(market.Config{Name: "future"})
	slots := futureSlots()

	f.CreateSlots(slots...)
	f.CreateSlots(slots...)

	if got := f.Slots(); len(got) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(got))
	}
}

func TestFuturePostOffer_UnknownSlot(t *testing.T) {
	f := market.NewFutureMarkets(market.Config{Name: "future"})
	f.CreateSlots(futureSlots()...)

	_, err := f.PostOffer(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), market.OrderSpec{
		Price:  decimal.NewFromInt(10),
		Energy: decimal.NewFromInt(5),
	})
	if !errors.Is(err, market.ErrUnknownTimeSlot) {
		t.Errorf("expected ErrUnknownTimeSlot, got %v", err)
	}
}

func TestFuturePostOffer_LandsInSlotMarket(t *testing.T) {
	f := market.NewFutureMarkets(market.Config{Name: "future"})
	slots := futureSlots()
	f.CreateSlots(slots...)

	offer, err := f.PostOffer(slots[1], market.OrderSpec{
		Price:  decimal.NewFromInt(10),
		Energy: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if !offer.TimeSlot.Equal(slots[1]) {
		t.Errorf("offer slot = %v, want %v", offer.TimeSlot, slots[1])
	}

	orders := f.OrdersPerSlot()
	if len(orders) != 3 {
		t.Fatalf("expected 3 slot snapshots, got %d", len(orders))
	}
	if len(orders[1].Offers) != 1 {
		t.Errorf("slot 1 should hold the offer, got %d", len(orders[1].Offers))
	}
	if len(orders[0].Offers) != 0 || len(orders[2].Offers) != 0 {
		t.Error("other slots must stay empty")
	}
}

func TestDeleteOrdersBefore_RotatesExpiredSlots(t *testing.T) {
	f := market.NewFutureMarkets(market.Config{Name: "future"})
	slots := futureSlots()
	f.CreateSlots(slots...)

	if _, err := f.PostBid(slots[0], market.OrderSpec{
		Price:  decimal.NewFromInt(10),
		Energy: decimal.NewFromInt(5),
	}); err != nil {
		t.Fatalf("post failed: %v", err)
	}

	removed := f.DeleteOrdersBefore(slots[0])
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got := f.Slots(); len(got) != 2 {
		t.Fatalf("expected 2 remaining slots, got %d", len(got))
	}
	if _, ok := f.MarketFor(slots[0]); ok {
		t.Error("expired slot must be gone")
	}

	// Second pass with the same cutoff is a no-op.
	if removed := f.DeleteOrdersBefore(slots[0]); removed != 0 {
		t.Errorf("second pass removed %d, want 0", removed)
	}
}

func TestRegistry_GetAndClose(t *testing.T) {
	r := market.NewRegistry()
	m := r.Open(market.Config{Name: "house", TimeSlot: futureSlots()[0]})

	got, err := r.Get(m.ID())
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != m {
		t.Error("registry must return the registered market")
	}

	if err := r.Close(m.ID()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if m.IsOpen() {
		t.Error("market must be read-only after registry close")
	}
	if len(r.List()) != 1 {
		t.Error("closed markets stay listed")
	}

	if _, err := r.Get("unknown"); !errors.Is(err, market.ErrUnknownMarket) {
		t.Errorf("expected ErrUnknownMarket, got %v", err)
	}
}
