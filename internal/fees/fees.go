// Package fees computes how a grid fee transforms order rates as they cross
// a market boundary, and how the spread between bid and offer rates is
// attributed to fee versus seller revenue when a trade clears.
//
// Policies are pure given their configured rate. Every returned value is
// rounded to model.RateScale so that re-deriving the numbers from a persisted
// TradeBidOfferInfo yields identical results.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/model"
)

// Kind selects the fee model of a market boundary.
type Kind int

const (
	// Constant charges a fixed amount per unit of energy.
	Constant Kind = iota
	// Percentage charges a fraction of the original order rate.
	Percentage
)

// Config is the fee configuration carried by a market. Rate is the per-unit
// surcharge for Constant and the fraction (0.01 == 1%) for Percentage.
type Config struct {
	Kind Kind            `json:"kind"`
	Rate decimal.Decimal `json:"rate"`
}

// Policy computes fee adjustments for one market boundary.
type Policy interface {
	// Rate returns the configured fee rate.
	Rate() decimal.Decimal

	// ApplyToOfferRate returns the per-unit rate of an offer after it
	// crosses into this market. rate is the rate propagated from the
	// source market, originalRate the untouched device rate.
	ApplyToOfferRate(rate, originalRate decimal.Decimal) decimal.Decimal

	// ApplyToBidRate is the buyer-side counterpart: the fee reduces the
	// rate a bid represents to the seller side.
	ApplyToBidRate(rate, originalRate decimal.Decimal) decimal.Decimal

	// TradePriceAndFees decomposes the cleared trade rate into seller
	// revenue, the fee rate charged by this market and the final per-unit
	// trade rate.
	TradePriceAndFees(info model.TradeBidOfferInfo) (revenue, feeRate, tradeRate decimal.Decimal)
}

// New builds the policy for a config. A non-positive rate degrades to a
// zero constant fee.
func New(cfg Config) Policy {
	if cfg.Rate.LessThanOrEqual(decimal.Zero) {
		return ConstantFee{rate: decimal.Zero}
	}
	if cfg.Kind == Percentage {
		return PercentageFee{fraction: cfg.Rate}
	}
	return ConstantFee{rate: cfg.Rate}
}

// Round truncates a rate or price to the engine's fixed decimal precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(model.RateScale)
}

// ConstantFee adds a fixed surcharge per unit of energy on every hop.
type ConstantFee struct {
	rate decimal.Decimal
}

// NewConstant creates a constant per-unit fee policy.
func NewConstant(rate decimal.Decimal) ConstantFee {
	return ConstantFee{rate: rate}
}

func (f ConstantFee) Rate() decimal.Decimal { return f.rate }

// ApplyToOfferRate adds the per-unit fee. The fee is additive per hop: an
// offer forwarded through two markets with rate 1 gains 2 in total.
func (f ConstantFee) ApplyToOfferRate(rate, _ decimal.Decimal) decimal.Decimal {
	return Round(rate.Add(f.rate))
}

// ApplyToBidRate subtracts the per-unit fee from the rate the bid offers to
// the supply side.
func (f ConstantFee) ApplyToBidRate(rate, _ decimal.Decimal) decimal.Decimal {
	return Round(rate.Sub(f.rate))
}

func (f ConstantFee) TradePriceAndFees(info model.TradeBidOfferInfo) (revenue, feeRate, tradeRate decimal.Decimal) {
	revenue = Round(info.TradeRate.Sub(f.rate))
	return revenue, Round(f.rate), Round(info.TradeRate)
}

// PercentageFee charges a fraction of the original order rate per hop.
type PercentageFee struct {
	fraction decimal.Decimal
}

// NewPercentage creates a percentage fee policy; fraction 0.01 is 1%.
func NewPercentage(fraction decimal.Decimal) PercentageFee {
	return PercentageFee{fraction: fraction}
}

func (f PercentageFee) Rate() decimal.Decimal { return f.fraction }

// ApplyToOfferRate adds this hop's share of the original rate, then guards
// with the floor the policy would compute from the untouched original. The
// floor prevents an under-charged propagated rate after repeated forwarding.
func (f PercentageFee) ApplyToOfferRate(rate, originalRate decimal.Decimal) decimal.Decimal {
	adjusted := rate.Add(originalRate.Mul(f.fraction))
	floor := originalRate.Mul(decimal.NewFromInt(1).Add(f.fraction))
	if adjusted.LessThan(floor) {
		adjusted = floor
	}
	return Round(adjusted)
}

// ApplyToBidRate subtracts this hop's share of the original rate, capped at
// what the policy would compute from the untouched original.
func (f PercentageFee) ApplyToBidRate(rate, originalRate decimal.Decimal) decimal.Decimal {
	adjusted := rate.Sub(originalRate.Mul(f.fraction))
	ceil := originalRate.Mul(decimal.NewFromInt(1).Sub(f.fraction))
	if adjusted.GreaterThan(ceil) {
		adjusted = ceil
	}
	return Round(adjusted)
}

// TradePriceAndFees attributes the bid/offer rate spread to demand-side and
// supply-side taxes accumulated over the forwarding path, derives the seller
// revenue from the cleared rate, and charges this market's share.
func (f PercentageFee) TradePriceAndFees(info model.TradeBidOfferInfo) (revenue, feeRate, tradeRate decimal.Decimal) {
	one := decimal.NewFromInt(1)

	demandTax := decimal.Zero
	if !info.OriginalBidRate.IsZero() {
		demandTax = one.Sub(info.PropagatedBidRate.Div(info.OriginalBidRate))
	}
	supplyTax := decimal.Zero
	if !info.OriginalOfferRate.IsZero() {
		supplyTax = info.PropagatedOfferRate.Div(info.OriginalOfferRate).Sub(one)
	}

	denom := one.Add(demandTax).Add(supplyTax)
	if denom.IsZero() {
		// Degenerate propagation: the taxes consume the whole rate and
		// there is no spread left to decompose.
		return decimal.Zero, decimal.Zero, Round(info.TradeRate)
	}
	revenue = info.TradeRate.Div(denom)
	feeRate = revenue.Mul(f.fraction)
	tradeRate = revenue.Mul(one.Add(supplyTax))
	return Round(revenue), Round(feeRate), Round(tradeRate)
}
