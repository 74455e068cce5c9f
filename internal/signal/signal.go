package signal

import (
	"context"

	"riskgate/internal/broker"
)

// Indicators carries the advisory technicals for one symbol. Fields are
// pointers so a missing value stays distinguishable from a real zero; the
// engine applies documented fallbacks at its boundary instead of guessing.
type Indicators struct {
	RSI     *float64
	ATR     *float64
	EMAFast *float64
	EMASlow *float64
}

const (
	// NeutralRSI is assumed when no RSI is available, so no extreme-condition
	// rule can fire on missing data.
	NeutralRSI = 50.0
	// FallbackATRPct scales the current price into a stand-in ATR when none
	// is supplied.
	FallbackATRPct = 0.001
)

// RSIOr returns the RSI or the given fallback.
func (in Indicators) RSIOr(fallback float64) float64 {
	if in.RSI == nil {
		return fallback
	}
	return *in.RSI
}

// ATROr returns the ATR or a price-scaled fallback.
func (in Indicators) ATROr(price float64) float64 {
	if in.ATR == nil || *in.ATR <= 0 {
		return price * FallbackATRPct
	}
	return *in.ATR
}

// Signal is one advisory tuple, refreshed once per cycle. Style names the
// setup family ("scalp", "swing", ...) and selects per-style admission caps
// when configured.
type Signal struct {
	Symbol     string
	Direction  broker.Direction
	Confidence float64
	Style      string
	Indicators Indicators
}

// Provider produces advisory signals. Implementations live outside the
// decision core; the engine consumes whatever the provider resolved for the
// cycle.
type Provider interface {
	Signal(ctx context.Context, symbol string) (Signal, bool)
}
