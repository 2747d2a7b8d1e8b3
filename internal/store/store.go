// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by lookups for ids the store has never seen.
var ErrNotFound = errors.New("store: not found")

// MarketRecord is the persisted shape of a market.
type MarketRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	TimeSlot     time.Time       `json:"time_slot"`
	FeeKind      int             `json:"fee_kind"`
	FeeRate      decimal.Decimal `json:"fee_rate"`
	ClearingMode int             `json:"clearing_mode"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Market status values.
const (
	MarketOpen   = "OPEN"
	MarketClosed = "CLOSED"
)

// OrderRecord is one order-book placement: an offer or a bid, including
// residuals created by splits.
type OrderRecord struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	Side          string          `json:"side"`
	Trader        string          `json:"trader"`
	Energy        decimal.Decimal `json:"energy"`
	Price         decimal.Decimal `json:"price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	TimeSlot      time.Time       `json:"time_slot"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Order side values.
const (
	SideOffer = "OFFER"
	SideBid   = "BID"
)

// TradeRecord is the immutable settlement record of one executed trade.
type TradeRecord struct {
	ID        string          `json:"id"`
	MarketID  string          `json:"market_id"`
	OfferID   string          `json:"offer_id"`
	BidID     string          `json:"bid_id"`
	Seller    string          `json:"seller"`
	Buyer     string          `json:"buyer"`
	Energy    decimal.Decimal `json:"energy"`
	Price     decimal.Decimal `json:"price"`
	FeePrice  decimal.Decimal `json:"fee_price"`
	TimeSlot  time.Time       `json:"time_slot"`
	CreatedAt time.Time       `json:"created_at"`
}

// TraderSummary aggregates a trader's activity from the trade ledger.
type TraderSummary struct {
	Trader       string          `json:"trader"`
	EnergySold   decimal.Decimal `json:"energy_sold"`
	EnergyBought decimal.Decimal `json:"energy_bought"`
	Earned       decimal.Decimal `json:"earned"`
	Spent        decimal.Decimal `json:"spent"`
	TradeCount   int             `json:"trade_count"`
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *MarketRecord) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*MarketRecord, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]MarketRecord, error)

	// SetMarketStatus records a market's lifecycle transition.
	SetMarketStatus(ctx context.Context, id, status string) error

	// --- Order history ---

	// InsertOrder appends an order placement record.
	InsertOrder(ctx context.Context, o *OrderRecord) error

	// OrdersByMarket returns all order placements for a market.
	OrdersByMarket(ctx context.Context, marketID string) ([]OrderRecord, error)

	// --- Immutable trade ledger ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *TradeRecord) error

	// TradesByMarket returns all trades for a market in execution order.
	TradesByMarket(ctx context.Context, marketID string) ([]TradeRecord, error)

	// TradesByTrader returns all trades a trader took part in, either side.
	TradesByTrader(ctx context.Context, trader string) ([]TradeRecord, error)

	// GetTraderSummary aggregates a trader's bought/sold totals from the
	// ledger.
	GetTraderSummary(ctx context.Context, trader string) (*TraderSummary, error)
}
