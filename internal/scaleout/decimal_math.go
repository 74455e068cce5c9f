package scaleout

import (
	"math"

	"github.com/shopspring/decimal"

	"riskgate/internal/broker"
)

var decimalEps = decimal.NewFromFloat(1e-8)

// TrailingStopFor places a stop at the given distance behind the favorable
// extreme.
func TrailingStopFor(dir broker.Direction, extreme, dist float64) float64 {
	return trailingStopFor(dir, extreme, dist)
}

// StopTightens reports whether candidate improves on current in the
// protective direction. A zero current always loses.
func StopTightens(dir broker.Direction, candidate, current float64) bool {
	return stopTightens(dir, candidate, current)
}

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// extremeImproved reports whether price is a new favorable extreme.
func extremeImproved(dir broker.Direction, price, extreme float64) bool {
	if price <= 0 || extreme <= 0 {
		return price > 0
	}
	cmp := decFromFloat(price).Cmp(decFromFloat(extreme))
	if dir == broker.Short {
		return cmp < 0
	}
	return cmp > 0
}

// trailingStopFor computes the stop anchored at the favorable extreme.
func trailingStopFor(dir broker.Direction, extreme, dist float64) float64 {
	if extreme <= 0 || dist <= 0 {
		return 0
	}
	base := decFromFloat(extreme)
	d := decFromFloat(dist)
	if dir == broker.Short {
		return decToFloat(base.Add(d))
	}
	return decToFloat(base.Sub(d))
}

// stopTightens is true only when the candidate moves the stop in the
// protective direction; trailing stops never loosen.
func stopTightens(dir broker.Direction, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if dir == broker.Short {
		return cand.Cmp(curr.Sub(decimalEps)) < 0
	}
	return cand.Cmp(curr.Add(decimalEps)) > 0
}
