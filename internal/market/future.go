package market

import (
	"sort"
	"sync"
	"time"

	"github.com/emx/market-engine/internal/model"
)

// FutureMarkets manages a rolling window of markets for delivery slots that
// lie beyond the current spot slot. Each slot gets its own Market sharing
// this collection's fee and clearing configuration; orders must always name
// a slot that is open for trading.
type FutureMarkets struct {
	cfg Config

	mu        sync.Mutex
	slots     map[int64]*Market
	listeners []model.Listener
}

// NewFutureMarkets creates an empty future-market collection. cfg.TimeSlot
// is ignored; every slot market gets its own.
func NewFutureMarkets(cfg Config) *FutureMarkets {
	return &FutureMarkets{
		cfg:   cfg,
		slots: make(map[int64]*Market),
	}
}

func slotKey(t time.Time) int64 { return t.UTC().Unix() }

// AddListener subscribes l to every current and future slot market.
func (f *FutureMarkets) AddListener(l model.Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, l)
	for _, m := range f.slots {
		m.AddListener(l)
	}
	f.mu.Unlock()
}

// CreateSlots opens a market for every slot that does not have one yet.
// Existing slots are left untouched, so extending the window is idempotent.
func (f *FutureMarkets) CreateSlots(slots ...time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, slot := range slots {
		key := slotKey(slot)
		if _, ok := f.slots[key]; ok {
			continue
		}
		cfg := f.cfg
		cfg.TimeSlot = slot.UTC()
		m := Open(cfg)
		for _, l := range f.listeners {
			m.AddListener(l)
		}
		f.slots[key] = m
	}
}

// Slots returns the open delivery slots in ascending order.
func (f *FutureMarkets) Slots() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, 0, len(f.slots))
	for _, m := range f.slots {
		out = append(out, m.TimeSlot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// MarketFor returns the market trading the given slot.
func (f *FutureMarkets) MarketFor(slot time.Time) (*Market, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.slots[slotKey(slot)]
	return m, ok
}

func (f *FutureMarkets) market(slot time.Time) (*Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.slots[slotKey(slot)]
	if !ok {
		return nil, ErrUnknownTimeSlot
	}
	return m, nil
}

// PostOffer places a sell order into the market for the given slot.
func (f *FutureMarkets) PostOffer(slot time.Time, spec OrderSpec) (*model.Offer, error) {
	m, err := f.market(slot)
	if err != nil {
		return nil, err
	}
	spec.TimeSlot = m.TimeSlot()
	return m.PostOffer(spec)
}

// PostBid places a buy order into the market for the given slot.
func (f *FutureMarkets) PostBid(slot time.Time, spec OrderSpec) (*model.Bid, error) {
	m, err := f.market(slot)
	if err != nil {
		return nil, err
	}
	spec.TimeSlot = m.TimeSlot()
	return m.PostBid(spec)
}

// DeleteOffer cancels a live offer in the given slot's market.
func (f *FutureMarkets) DeleteOffer(slot time.Time, id string) error {
	m, err := f.market(slot)
	if err != nil {
		return err
	}
	return m.DeleteOffer(id)
}

// DeleteBid cancels a live bid in the given slot's market.
func (f *FutureMarkets) DeleteBid(slot time.Time, id string) error {
	m, err := f.market(slot)
	if err != nil {
		return err
	}
	return m.DeleteBid(id)
}

// SlotOrders is the open order snapshot of one delivery slot.
type SlotOrders struct {
	TimeSlot time.Time      `json:"time_slot"`
	Offers   []*model.Offer `json:"offers"`
	Bids     []*model.Bid   `json:"bids"`
}

// OrdersPerSlot snapshots the open offers and bids of every slot, ascending
// by slot.
func (f *FutureMarkets) OrdersPerSlot() []SlotOrders {
	f.mu.Lock()
	markets := make([]*Market, 0, len(f.slots))
	for _, m := range f.slots {
		markets = append(markets, m)
	}
	f.mu.Unlock()

	sort.Slice(markets, func(i, j int) bool {
		return markets[i].TimeSlot().Before(markets[j].TimeSlot())
	})
	out := make([]SlotOrders, 0, len(markets))
	for _, m := range markets {
		out = append(out, SlotOrders{
			TimeSlot: m.TimeSlot(),
			Offers:   m.SortedOffers(),
			Bids:     m.SortedBids(),
		})
	}
	return out
}

// DeleteOrdersBefore closes and drops every slot market whose delivery slot
// is not after cutoff. Calling it again with the same cutoff is a no-op; the
// dropped markets' history is gone with them.
func (f *FutureMarkets) DeleteOrdersBefore(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	removed := 0
	for key, m := range f.slots {
		if m.TimeSlot().After(cutoff) {
			continue
		}
		m.Close()
		delete(f.slots, key)
		removed++
	}
	return removed
}
