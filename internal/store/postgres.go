package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *MarketRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, name, time_slot, fee_kind, fee_rate, clearing_mode, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)`,
		m.ID, m.Name, m.TimeSlot,
		m.FeeKind, m.FeeRate.String(), m.ClearingMode,
		m.Status, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*MarketRecord, error) {
	var m MarketRecord
	var feeRate string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, time_slot, fee_kind, fee_rate::TEXT, clearing_mode, status, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.TimeSlot,
			&m.FeeKind, &feeRate, &m.ClearingMode,
			&m.Status, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}

	m.FeeRate, _ = decimal.NewFromString(feeRate)
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]MarketRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, time_slot, fee_kind, fee_rate::TEXT, clearing_mode, status, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []MarketRecord
	for rows.Next() {
		var m MarketRecord
		var feeRate string
		if err := rows.Scan(&m.ID, &m.Name, &m.TimeSlot,
			&m.FeeKind, &feeRate, &m.ClearingMode,
			&m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.FeeRate, _ = decimal.NewFromString(feeRate)
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SetMarketStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) InsertOrder(ctx context.Context, o *OrderRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, market_id, side, trader, energy, price, original_price, time_slot, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		o.ID, o.MarketID, o.Side, o.Trader,
		o.Energy.String(), o.Price.String(), o.OriginalPrice.String(),
		o.TimeSlot, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) OrdersByMarket(ctx context.Context, marketID string) ([]OrderRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, side, trader,
		        energy::TEXT, price::TEXT, original_price::TEXT,
		        time_slot, created_at
		 FROM orders WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		var o OrderRecord
		var energyS, priceS, origS string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.Side, &o.Trader,
			&energyS, &priceS, &origS,
			&o.TimeSlot, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Energy, _ = decimal.NewFromString(energyS)
		o.Price, _ = decimal.NewFromString(priceS)
		o.OriginalPrice, _ = decimal.NewFromString(origS)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *TradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, offer_id, bid_id, seller, buyer, energy, price, fee_price, time_slot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		t.ID, t.MarketID, t.OfferID, t.BidID, t.Seller, t.Buyer,
		t.Energy.String(), t.Price.String(), t.FeePrice.String(),
		t.TimeSlot, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) TradesByMarket(ctx context.Context, marketID string) ([]TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, offer_id, bid_id, seller, buyer,
		        energy::TEXT, price::TEXT, fee_price::TEXT,
		        time_slot, created_at
		 FROM trades WHERE market_id = $1 ORDER BY created_at`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByTrader(ctx context.Context, trader string) ([]TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, offer_id, bid_id, seller, buyer,
		        energy::TEXT, price::TEXT, fee_price::TEXT,
		        time_slot, created_at
		 FROM trades WHERE seller = $1 OR buyer = $1 ORDER BY created_at`, trader)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTraderSummary(ctx context.Context, trader string) (*TraderSummary, error) {
	var soldS, boughtS, earnedS, spentS string
	summary := &TraderSummary{Trader: trader}

	err := s.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN seller = $1 THEN energy ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN buyer  = $1 THEN energy ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN seller = $1 THEN price - fee_price ELSE 0 END), 0)::TEXT,
			COALESCE(SUM(CASE WHEN buyer  = $1 THEN price ELSE 0 END), 0)::TEXT,
			COUNT(*)
		 FROM trades WHERE seller = $1 OR buyer = $1`, trader).
		Scan(&soldS, &boughtS, &earnedS, &spentS, &summary.TradeCount)
	if err != nil {
		return nil, err
	}

	summary.EnergySold, _ = decimal.NewFromString(soldS)
	summary.EnergyBought, _ = decimal.NewFromString(boughtS)
	summary.Earned, _ = decimal.NewFromString(earnedS)
	summary.Spent, _ = decimal.NewFromString(spentS)
	return summary, nil
}

// scanTrades reads pgx rows into TradeRecord slices.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]TradeRecord, error) {
	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var energyS, priceS, feeS string

		if err := rows.Scan(&t.ID, &t.MarketID, &t.OfferID, &t.BidID, &t.Seller, &t.Buyer,
			&energyS, &priceS, &feeS, &t.TimeSlot, &t.CreatedAt); err != nil {
			return nil, err
		}

		t.Energy, _ = decimal.NewFromString(energyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.FeePrice, _ = decimal.NewFromString(feeS)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
