// Package matching contains the clearing policies that decide which
// bid/offer pairs should become trades. Policies work on order book
// snapshots and never mutate the book; executing the resulting
// recommendations is the market's job, which keeps the policies swappable
// with an out-of-process matcher.
package matching

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/model"
)

// ErrInvalidBidOfferPair is returned when a proposed pairing fails the rate
// or energy feasibility checks.
var ErrInvalidBidOfferPair = errors.New("matching: invalid bid/offer pair")

// Recommendation is one proposed match: trade SelectedEnergy between the
// referenced bid and offer at TradeRate per unit.
type Recommendation struct {
	BidID          string
	OfferID        string
	SelectedEnergy decimal.Decimal
	TradeRate      decimal.Decimal
}

// ValidatePair checks the feasibility of trading selectedEnergy between bid
// and offer at clearingRate. All violations report ErrInvalidBidOfferPair.
func ValidatePair(bid *model.Bid, offer *model.Offer, selectedEnergy, clearingRate decimal.Decimal) error {
	if selectedEnergy.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: selected energy %s is not positive", ErrInvalidBidOfferPair, selectedEnergy)
	}
	if selectedEnergy.GreaterThan(bid.Energy.Add(model.EnergyTolerance)) {
		return fmt.Errorf("%w: selected energy %s exceeds bid energy %s",
			ErrInvalidBidOfferPair, selectedEnergy, bid.Energy)
	}
	if selectedEnergy.GreaterThan(offer.Energy.Add(model.EnergyTolerance)) {
		return fmt.Errorf("%w: selected energy %s exceeds offer energy %s",
			ErrInvalidBidOfferPair, selectedEnergy, offer.Energy)
	}
	bidRate := bid.EnergyRate()
	offerRate := offer.EnergyRate()
	if bidRate.Add(model.EnergyTolerance).LessThan(clearingRate) {
		return fmt.Errorf("%w: clearing rate %s is higher than bid rate %s",
			ErrInvalidBidOfferPair, clearingRate, bidRate)
	}
	if offerRate.GreaterThan(clearingRate.Add(model.EnergyTolerance)) {
		return fmt.Errorf("%w: offer rate %s is higher than clearing rate %s",
			ErrInvalidBidOfferPair, offerRate, clearingRate)
	}
	if bidRate.Add(model.EnergyTolerance).LessThan(offerRate) {
		return fmt.Errorf("%w: bid rate %s is lower than offer rate %s",
			ErrInvalidBidOfferPair, bidRate, offerRate)
	}
	return nil
}

// PayAsBid pairs the highest bids with the cheapest offers; each resulting
// trade settles at the bid's rate.
type PayAsBid struct{}

// Match sweeps bids (descending rate) against offers (ascending rate) and
// emits a recommendation for every feasible pairing. Inputs must already be
// sorted the way orderbook.SortedBids/SortedOffers sort them.
func (PayAsBid) Match(bids []*model.Bid, offers []*model.Offer) []Recommendation {
	return sweep(bids, offers, func(bid *model.Bid, _ *model.Offer) decimal.Decimal {
		return bid.EnergyRate()
	})
}

// PayAsOffer is PayAsBid with the offer's rate as the trade rate.
type PayAsOffer struct{}

// Match behaves like PayAsBid.Match with the offer's rate per pairing.
func (PayAsOffer) Match(bids []*model.Bid, offers []*model.Offer) []Recommendation {
	return sweep(bids, offers, func(_ *model.Bid, offer *model.Offer) decimal.Decimal {
		return offer.EnergyRate()
	})
}

func sweep(bids []*model.Bid, offers []*model.Offer, rate func(*model.Bid, *model.Offer) decimal.Decimal) []Recommendation {
	var recs []Recommendation
	i, j := 0, 0
	bidRem, offerRem := decimal.Zero, decimal.Zero
	if len(bids) > 0 {
		bidRem = bids[0].Energy
	}
	if len(offers) > 0 {
		offerRem = offers[0].Energy
	}
	for i < len(bids) && j < len(offers) {
		bid, offer := bids[i], offers[j]
		if bid.EnergyRate().Add(model.EnergyTolerance).LessThan(offer.EnergyRate()) {
			break
		}
		energy := decimal.Min(bidRem, offerRem)
		if energy.GreaterThan(model.EnergyTolerance) {
			recs = append(recs, Recommendation{
				BidID:          bid.ID,
				OfferID:        offer.ID,
				SelectedEnergy: energy,
				TradeRate:      rate(bid, offer),
			})
		}
		bidRem = bidRem.Sub(energy)
		offerRem = offerRem.Sub(energy)
		if bidRem.LessThanOrEqual(model.EnergyTolerance) {
			i++
			if i < len(bids) {
				bidRem = bids[i].Energy
			}
		}
		if offerRem.LessThanOrEqual(model.EnergyTolerance) {
			j++
			if j < len(offers) {
				offerRem = offers[j].Energy
			}
		}
	}
	return recs
}

// ClearingRateMode selects whose rate becomes the uniform clearing rate in
// pay-as-clear mode.
type ClearingRateMode int

const (
	// ClearingRateBid uses the marginal (lowest matched) bid rate.
	ClearingRateBid ClearingRateMode = iota
	// ClearingRateOffer uses the marginal (highest matched) offer rate.
	ClearingRateOffer
	// ClearingRateMidpoint uses the midpoint of the two marginal rates.
	ClearingRateMidpoint
)

// PayAsClear builds aggregate supply/demand curves and clears every matched
// pair at one uniform rate.
type PayAsClear struct {
	Mode ClearingRateMode
}

// Match finds the maximal traded energy where demand still meets supply and
// returns one recommendation per matched pair, all carrying the same
// clearing rate. Ties at the clearing boundary resolve by the input order:
// rate first, then creation time, then id (the sort the order book provides).
func (p PayAsClear) Match(bids []*model.Bid, offers []*model.Offer) ([]Recommendation, decimal.Decimal) {
	recs := sweep(bids, offers, func(*model.Bid, *model.Offer) decimal.Decimal {
		return decimal.Zero // placeholder, rewritten below
	})
	if len(recs) == 0 {
		return nil, decimal.Zero
	}

	// Marginal rates come from the last matched pair.
	last := recs[len(recs)-1]
	marginalBid := rateOfBid(bids, last.BidID)
	marginalOffer := rateOfOffer(offers, last.OfferID)

	var clearing decimal.Decimal
	switch p.Mode {
	case ClearingRateOffer:
		clearing = marginalOffer
	case ClearingRateMidpoint:
		clearing = marginalBid.Add(marginalOffer).Div(decimal.NewFromInt(2))
	default:
		clearing = marginalBid
	}
	clearing = clearing.Round(model.RateScale)

	for i := range recs {
		recs[i].TradeRate = clearing
	}
	return recs, clearing
}

func rateOfBid(bids []*model.Bid, id string) decimal.Decimal {
	for _, b := range bids {
		if b.ID == id {
			return b.EnergyRate()
		}
	}
	return decimal.Zero
}

func rateOfOffer(offers []*model.Offer, id string) decimal.Decimal {
	for _, o := range offers {
		if o.ID == id {
			return o.EnergyRate()
		}
	}
	return decimal.Zero
}
