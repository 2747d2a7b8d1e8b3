package market

import "errors"

var (
	// ErrReadOnly is returned by every mutating operation once the
	// market's trading window has closed. It is always the first check, so
	// a rejected call leaves no partial side effect.
	ErrReadOnly = errors.New("market: market is read-only")

	// ErrInvalidTrade is returned when the requested trade energy exceeds
	// the referenced order's remaining energy or is not positive.
	ErrInvalidTrade = errors.New("market: invalid trade")

	// ErrUnknownTimeSlot is returned by future markets when an order
	// references a delivery slot that is not open for trading.
	ErrUnknownTimeSlot = errors.New("market: unknown time slot")

	// ErrUnknownMarket is returned by the registry for an unknown market id.
	ErrUnknownMarket = errors.New("market: unknown market")
)
