// Package model defines the core domain types shared across the market engine:
// offers, bids, trades and the external recommendation wire format.
// All prices, rates and energy quantities use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateScale is the number of decimal places used for any persisted or
// compared rate/price value. Keeping it fixed prevents floating-point drift
// from accumulating while orders are forwarded across market layers.
const RateScale int32 = 3

// EnergyTolerance is the absolute tolerance for energy comparisons. Residual
// quantities smaller than this are treated as zero.
var EnergyTolerance = decimal.New(1, -8)

// EnergyEqual reports whether two energy quantities are equal within
// EnergyTolerance.
func EnergyEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(EnergyTolerance)
}

// TraderInfo identifies one side of an order. Origin fields track the device
// that originally posted the order while it is forwarded through intermediary
// market agents.
type TraderInfo struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	OriginName string `json:"origin_name,omitempty"`
	OriginID   string `json:"origin_id,omitempty"`
}

// Offer is a seller's proposal to sell a quantity of energy at a total price.
// Price is the total price for Energy kWh, not a per-unit rate.
type Offer struct {
	ID            string           `json:"id"`
	Time          time.Time        `json:"time"`
	Price         decimal.Decimal  `json:"price"`
	Energy        decimal.Decimal  `json:"energy"`
	Seller        TraderInfo       `json:"seller"`
	OriginalPrice decimal.Decimal  `json:"original_price"`
	TimeSlot      time.Time        `json:"time_slot"`
	Attributes    map[string]any   `json:"attributes,omitempty"`
	Requirements  []map[string]any `json:"requirements,omitempty"`
}

// EnergyRate returns the per-unit price of the offer.
func (o *Offer) EnergyRate() decimal.Decimal {
	return o.Price.Div(o.Energy)
}

// OriginalRate returns the per-unit price before any grid fee adjustment.
func (o *Offer) OriginalRate() decimal.Decimal {
	return o.OriginalPrice.Div(o.Energy)
}

// Clone returns a deep copy of the offer. Trades hold clones so that the
// record stays valid after the live order is removed from the book.
func (o *Offer) Clone() *Offer {
	c := *o
	c.Attributes = cloneAttributes(o.Attributes)
	c.Requirements = cloneRequirements(o.Requirements)
	return &c
}

// Bid is a buyer's counterpart of Offer.
type Bid struct {
	ID            string           `json:"id"`
	Time          time.Time        `json:"time"`
	Price         decimal.Decimal  `json:"price"`
	Energy        decimal.Decimal  `json:"energy"`
	Buyer         TraderInfo       `json:"buyer"`
	OriginalPrice decimal.Decimal  `json:"original_price"`
	TimeSlot      time.Time        `json:"time_slot"`
	Attributes    map[string]any   `json:"attributes,omitempty"`
	Requirements  []map[string]any `json:"requirements,omitempty"`
}

// EnergyRate returns the per-unit price of the bid.
func (b *Bid) EnergyRate() decimal.Decimal {
	return b.Price.Div(b.Energy)
}

// OriginalRate returns the per-unit price before any grid fee adjustment.
func (b *Bid) OriginalRate() decimal.Decimal {
	return b.OriginalPrice.Div(b.Energy)
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	c := *b
	c.Attributes = cloneAttributes(b.Attributes)
	c.Requirements = cloneRequirements(b.Requirements)
	return &c
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	c := make(map[string]any, len(attrs))
	for k, v := range attrs {
		c[k] = v
	}
	return c
}

func cloneRequirements(reqs []map[string]any) []map[string]any {
	if reqs == nil {
		return nil
	}
	c := make([]map[string]any, len(reqs))
	for i, r := range reqs {
		c[i] = cloneAttributes(r)
	}
	return c
}

// Trade is an immutable record of a completed match. The consumed order is
// stored as a copy, never as a reference into the live book; the residual, if
// the match was partial, references the re-inserted remainder.
type Trade struct {
	ID            string             `json:"id"`
	Time          time.Time          `json:"time"`
	Offer         *Offer             `json:"offer,omitempty"`
	Bid           *Bid               `json:"bid,omitempty"`
	Seller        TraderInfo         `json:"seller"`
	Buyer         TraderInfo         `json:"buyer"`
	TradedEnergy  decimal.Decimal    `json:"traded_energy"`
	TradePrice    decimal.Decimal    `json:"trade_price"`
	ResidualOffer *Offer             `json:"residual_offer,omitempty"`
	ResidualBid   *Bid               `json:"residual_bid,omitempty"`
	FeePrice      decimal.Decimal    `json:"fee_price"`
	TimeSlot      time.Time          `json:"time_slot"`
	MatchInfo     *TradeBidOfferInfo `json:"match_info,omitempty"`
}

// TradeRate returns the per-unit rate the trade settled at.
func (t *Trade) TradeRate() decimal.Decimal {
	if t.TradedEnergy.IsZero() {
		return decimal.Zero
	}
	return t.TradePrice.Div(t.TradedEnergy)
}

// TradeBidOfferInfo carries the original and propagated per-unit rates of a
// matched pair across market layers. Fee attribution is re-derivable from a
// persisted copy of this record alone.
type TradeBidOfferInfo struct {
	OriginalBidRate     decimal.Decimal `json:"original_bid_rate"`
	PropagatedBidRate   decimal.Decimal `json:"propagated_bid_rate"`
	OriginalOfferRate   decimal.Decimal `json:"original_offer_rate"`
	PropagatedOfferRate decimal.Decimal `json:"propagated_offer_rate"`
	TradeRate           decimal.Decimal `json:"trade_rate"`
}
