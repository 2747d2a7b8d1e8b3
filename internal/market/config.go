package market

import (
	"time"

	"github.com/emx/market-engine/internal/fees"
	"github.com/emx/market-engine/internal/matching"
)

// Config is the value configuration a market is constructed with. There is
// no process-wide mutable market configuration; every market carries its own
// copy.
type Config struct {
	// Name labels the market in logs and events (usually the owning area).
	Name string `json:"name"`

	// TimeSlot is the delivery slot this market trades. Orders posted
	// without an explicit slot are stamped with it.
	TimeSlot time.Time `json:"time_slot"`

	// Fee configures the grid fee applied at this market boundary.
	Fee fees.Config `json:"fee"`

	// ClearingRate selects whose rate becomes the uniform clearing rate
	// when the market clears pay-as-clear.
	ClearingRate matching.ClearingRateMode `json:"clearing_rate"`
}
