package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*MarketRecord
	orders  []OrderRecord
	trades  []TradeRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*MarketRecord),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *m
	s.markets[m.ID] = &copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]MarketRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]MarketRecord, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) SetMarketStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	m.Status = status
	return nil
}

func (s *MemoryStore) InsertOrder(_ context.Context, o *OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = append(s.orders, *o)
	return nil
}

func (s *MemoryStore) OrdersByMarket(_ context.Context, marketID string) ([]OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []OrderRecord
	for _, o := range s.orders {
		if o.MarketID == marketID {
			result = append(result, o)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) TradesByMarket(_ context.Context, marketID string) ([]TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []TradeRecord
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesByTrader(_ context.Context, trader string) ([]TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []TradeRecord
	for _, t := range s.trades {
		if t.Seller == trader || t.Buyer == trader {
			result = append(result, t)
		}
	}
	return result, nil
}

// GetTraderSummary aggregates the trader's trades under a single lock.
func (s *MemoryStore) GetTraderSummary(_ context.Context, trader string) (*TraderSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &TraderSummary{Trader: trader}
	for _, t := range s.trades {
		matched := false
		if t.Seller == trader {
			summary.EnergySold = summary.EnergySold.Add(t.Energy)
			summary.Earned = summary.Earned.Add(t.Price.Sub(t.FeePrice))
			matched = true
		}
		if t.Buyer == trader {
			summary.EnergyBought = summary.EnergyBought.Add(t.Energy)
			summary.Spent = summary.Spent.Add(t.Price)
			matched = true
		}
		if matched {
			summary.TradeCount++
		}
	}
	return summary, nil
}
