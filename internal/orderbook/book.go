// Package orderbook provides the storage and lifecycle management of open
// offers and bids for one market time slot: insert, remove, split and lookup
// with strict energy/price bookkeeping.
//
// A Book is not safe for concurrent use by itself. The owning market
// serializes every call under its own lock; the snapshot accessors return
// independent copies so callers never iterate a live collection.
package orderbook

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emx/market-engine/internal/model"
)

var (
	// ErrNegativeEnergy is returned when an order is posted with
	// non-positive energy.
	ErrNegativeEnergy = errors.New("orderbook: order energy must be positive")

	// ErrNegativePrice is returned when an order's price is negative after
	// fee adjustment.
	ErrNegativePrice = errors.New("orderbook: order price must not be negative")

	// ErrNotFound is returned when the referenced order id is absent from
	// the live mapping.
	ErrNotFound = errors.New("orderbook: order not found")

	// ErrInvalidSplit is returned when the requested split energy is not
	// strictly between zero and the order's energy.
	ErrInvalidSplit = errors.New("orderbook: split energy out of range")
)

// Book owns the live offer/bid mappings for one time slot, the append-only
// order histories and the append-only trade list.
type Book struct {
	offers map[string]*model.Offer
	bids   map[string]*model.Bid

	offerHistory []*model.Offer
	bidHistory   []*model.Bid
	trades       []*model.Trade
}

// New creates an empty order book.
func New() *Book {
	return &Book{
		offers: make(map[string]*model.Offer),
		bids:   make(map[string]*model.Bid),
	}
}

// InsertOffer validates and stores an offer, appending it to the offer
// history. An empty ID is replaced with a fresh one.
func (b *Book) InsertOffer(o *model.Offer) error {
	if err := validateOrder(o.Energy, o.Price); err != nil {
		return err
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	b.offers[o.ID] = o
	b.offerHistory = append(b.offerHistory, o.Clone())
	return nil
}

// InsertBid validates and stores a bid, appending it to the bid history.
func (b *Book) InsertBid(bid *model.Bid) error {
	if err := validateOrder(bid.Energy, bid.Price); err != nil {
		return err
	}
	if bid.ID == "" {
		bid.ID = uuid.New().String()
	}
	b.bids[bid.ID] = bid
	b.bidHistory = append(b.bidHistory, bid.Clone())
	return nil
}

func validateOrder(energy, price decimal.Decimal) error {
	if energy.LessThanOrEqual(model.EnergyTolerance) {
		return ErrNegativeEnergy
	}
	if price.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

// RemoveOffer deletes the offer from the live mapping and returns it.
func (b *Book) RemoveOffer(id string) (*model.Offer, error) {
	o, ok := b.offers[id]
	if !ok {
		return nil, fmt.Errorf("%w: offer %s", ErrNotFound, id)
	}
	delete(b.offers, id)
	return o, nil
}

// RemoveBid deletes the bid from the live mapping and returns it.
func (b *Book) RemoveBid(id string) (*model.Bid, error) {
	bid, ok := b.bids[id]
	if !ok {
		return nil, fmt.Errorf("%w: bid %s", ErrNotFound, id)
	}
	delete(b.bids, id)
	return bid, nil
}

// Offer looks up a live offer by id.
func (b *Book) Offer(id string) (*model.Offer, bool) {
	o, ok := b.offers[id]
	return o, ok
}

// Bid looks up a live bid by id.
func (b *Book) Bid(id string) (*model.Bid, bool) {
	bid, ok := b.bids[id]
	return bid, ok
}

// SplitOffer splits the offer identified by id into an accepted piece with
// the given energy and a residual with the remainder. The accepted piece
// keeps the original id (replace-in-place), so references held by callers
// resolve to the traded part; the residual is minted a new id and appended
// to the history. The prices of the two pieces are proportional shares of
// the originals and sum exactly to them.
func (b *Book) SplitOffer(id string, energy, originalPrice decimal.Decimal) (accepted, residual *model.Offer, err error) {
	o, ok := b.offers[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: offer %s", ErrNotFound, id)
	}
	if energy.LessThanOrEqual(model.EnergyTolerance) || energy.GreaterThanOrEqual(o.Energy) {
		return nil, nil, fmt.Errorf("%w: %s of %s", ErrInvalidSplit, energy, o.Energy)
	}

	// Multiply before dividing so exact shares stay exact.
	accepted = o.Clone()
	accepted.Energy = energy
	accepted.Price = o.Price.Mul(energy).Div(o.Energy)
	accepted.OriginalPrice = originalPrice.Mul(energy).Div(o.Energy)

	residual = o.Clone()
	residual.ID = uuid.New().String()
	residual.Energy = o.Energy.Sub(energy)
	residual.Price = o.Price.Sub(accepted.Price)
	residual.OriginalPrice = originalPrice.Sub(accepted.OriginalPrice)

	b.offers[accepted.ID] = accepted
	b.offers[residual.ID] = residual
	b.offerHistory = append(b.offerHistory, residual.Clone())
	return accepted, residual, nil
}

// SplitBid is the buyer-side counterpart of SplitOffer.
func (b *Book) SplitBid(id string, energy, originalPrice decimal.Decimal) (accepted, residual *model.Bid, err error) {
	bid, ok := b.bids[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: bid %s", ErrNotFound, id)
	}
	if energy.LessThanOrEqual(model.EnergyTolerance) || energy.GreaterThanOrEqual(bid.Energy) {
		return nil, nil, fmt.Errorf("%w: %s of %s", ErrInvalidSplit, energy, bid.Energy)
	}

	// Multiply before dividing so exact shares stay exact.
	accepted = bid.Clone()
	accepted.Energy = energy
	accepted.Price = bid.Price.Mul(energy).Div(bid.Energy)
	accepted.OriginalPrice = originalPrice.Mul(energy).Div(bid.Energy)

	residual = bid.Clone()
	residual.ID = uuid.New().String()
	residual.Energy = bid.Energy.Sub(energy)
	residual.Price = bid.Price.Sub(accepted.Price)
	residual.OriginalPrice = originalPrice.Sub(accepted.OriginalPrice)

	b.bids[accepted.ID] = accepted
	b.bids[residual.ID] = residual
	b.bidHistory = append(b.bidHistory, residual.Clone())
	return accepted, residual, nil
}

// Offers returns an independent copy of the live offer mapping.
func (b *Book) Offers() map[string]*model.Offer {
	out := make(map[string]*model.Offer, len(b.offers))
	for id, o := range b.offers {
		out[id] = o.Clone()
	}
	return out
}

// Bids returns an independent copy of the live bid mapping.
func (b *Book) Bids() map[string]*model.Bid {
	out := make(map[string]*model.Bid, len(b.bids))
	for id, bid := range b.bids {
		out[id] = bid.Clone()
	}
	return out
}

// SortedOffers returns copies of the live offers sorted by ascending energy
// rate; ties break on creation time, then id.
func (b *Book) SortedOffers() []*model.Offer {
	out := make([]*model.Offer, 0, len(b.offers))
	for _, o := range b.offers {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].EnergyRate(), out[j].EnergyRate()
		if !ri.Equal(rj) {
			return ri.LessThan(rj)
		}
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SortedBids returns copies of the live bids sorted by descending energy
// rate; ties break on creation time, then id.
func (b *Book) SortedBids() []*model.Bid {
	out := make([]*model.Bid, 0, len(b.bids))
	for _, bid := range b.bids {
		out = append(out, bid.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].EnergyRate(), out[j].EnergyRate()
		if !ri.Equal(rj) {
			return ri.GreaterThan(rj)
		}
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// AppendTrade records a completed trade. Trades are append-only.
func (b *Book) AppendTrade(t *model.Trade) {
	b.trades = append(b.trades, t)
}

// Trades returns the recorded trades in execution order.
func (b *Book) Trades() []*model.Trade {
	out := make([]*model.Trade, len(b.trades))
	copy(out, b.trades)
	return out
}

// OfferHistory returns every offer ever posted, in posting order.
func (b *Book) OfferHistory() []*model.Offer {
	out := make([]*model.Offer, len(b.offerHistory))
	copy(out, b.offerHistory)
	return out
}

// BidHistory returns every bid ever posted, in posting order.
func (b *Book) BidHistory() []*model.Bid {
	out := make([]*model.Bid, len(b.bidHistory))
	copy(out, b.bidHistory)
	return out
}

// OpenOfferCount reports the number of live offers.
func (b *Book) OpenOfferCount() int { return len(b.offers) }

// OpenBidCount reports the number of live bids.
func (b *Book) OpenBidCount() int { return len(b.bids) }
