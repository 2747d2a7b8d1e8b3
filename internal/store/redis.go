package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *MarketRecord) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) SetMarketStatus(ctx context.Context, id, status string) error {
	if err := s.primary.SetMarketStatus(ctx, id, status); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *OrderRecord) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *TradeRecord) error {
	if err := s.primary.InsertTrade(ctx, t); err != nil {
		return err
	}
	// Invalidate the summaries of both counterparties.
	s.rdb.Del(ctx, summaryKey(t.Seller), summaryKey(t.Buyer))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*MarketRecord, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m MarketRecord
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetTraderSummary(ctx context.Context, trader string) (*TraderSummary, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, summaryKey(trader)).Bytes()
	if err == nil {
		var summary TraderSummary
		if json.Unmarshal(data, &summary) == nil {
			return &summary, nil
		}
	}

	// Cache miss.
	summary, err := s.primary.GetTraderSummary(ctx, trader)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(summary); err == nil {
		s.rdb.Set(ctx, summaryKey(trader), data, s.ttl)
	}
	return summary, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]MarketRecord, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) OrdersByMarket(ctx context.Context, marketID string) ([]OrderRecord, error) {
	return s.primary.OrdersByMarket(ctx, marketID)
}

func (s *CachedStore) TradesByMarket(ctx context.Context, marketID string) ([]TradeRecord, error) {
	return s.primary.TradesByMarket(ctx, marketID)
}

func (s *CachedStore) TradesByTrader(ctx context.Context, trader string) ([]TradeRecord, error) {
	return s.primary.TradesByTrader(ctx, trader)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *MarketRecord) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string       { return fmt.Sprintf("market:%s", id) }
func summaryKey(trader string) string  { return fmt.Sprintf("trader:%s", trader) }
