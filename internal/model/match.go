package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrMalformedMatch is returned when a recommendation fails schema
// validation. Schema errors are blocking: the whole batch is rejected.
var ErrMalformedMatch = errors.New("model: malformed bid/offer match")

// BidOfferMatch is the wire shape of one externally supplied match
// recommendation. Bid and Offer are flat order records as published to the
// external matcher; only their IDs are authoritative — the engine re-resolves
// both against the live order book before executing.
type BidOfferMatch struct {
	MarketID       string          `json:"market_id"`
	TimeSlot       string          `json:"time_slot"`
	Bid            *Bid            `json:"bid"`
	Offer          *Offer          `json:"offer"`
	TradeRate      decimal.Decimal `json:"trade_rate"`
	SelectedEnergy decimal.Decimal `json:"selected_energy"`
}

// Validate checks the recommendation for schema-level defects. A failure
// here aborts the entire batch it arrived in.
func (m *BidOfferMatch) Validate() error {
	if m.MarketID == "" {
		return fmt.Errorf("%w: missing market_id", ErrMalformedMatch)
	}
	if m.Bid == nil || m.Bid.ID == "" {
		return fmt.Errorf("%w: missing bid", ErrMalformedMatch)
	}
	if m.Offer == nil || m.Offer.ID == "" {
		return fmt.Errorf("%w: missing offer", ErrMalformedMatch)
	}
	if m.SelectedEnergy.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: selected_energy must be positive", ErrMalformedMatch)
	}
	if m.TradeRate.IsNegative() {
		return fmt.Errorf("%w: trade_rate must not be negative", ErrMalformedMatch)
	}
	return nil
}

// MatchResult is the per-recommendation response entry: the recommendation
// echoed back with a success/fail status and, on failure, a message.
type MatchResult struct {
	BidOfferMatch
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// BatchResult is the response for one recommendation batch.
type BatchResult struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Results []MatchResult `json:"recommendations"`
}
