package model

// EventType enumerates the notifications a market dispatches to its
// listeners after a successful mutation.
type EventType string

const (
	EventOffer        EventType = "offer"
	EventOfferDeleted EventType = "offer_deleted"
	EventOfferSplit   EventType = "offer_split"
	EventOfferTraded  EventType = "offer_traded"
	EventBid          EventType = "bid"
	EventBidDeleted   EventType = "bid_deleted"
	EventBidSplit     EventType = "bid_split"
	EventBidTraded    EventType = "bid_traded"
)

// Event is the payload delivered to market listeners. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type     EventType `json:"type"`
	MarketID string    `json:"market_id"`
	Offer    *Offer    `json:"offer,omitempty"`
	Bid      *Bid      `json:"bid,omitempty"`
	Trade    *Trade    `json:"trade,omitempty"`

	// Split events carry all three pieces.
	Original *Offer `json:"original_offer,omitempty"`
	Accepted *Offer `json:"accepted_offer,omitempty"`
	Residual *Offer `json:"residual_offer,omitempty"`

	OriginalBid *Bid `json:"original_bid,omitempty"`
	AcceptedBid *Bid `json:"accepted_bid,omitempty"`
	ResidualBid *Bid `json:"residual_bid,omitempty"`
}

// Listener receives market events. Listeners are invoked after the market
// lock is released; they must not assume the market state still matches the
// event payload.
type Listener func(Event)
