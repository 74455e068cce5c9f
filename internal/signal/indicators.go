package signal

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"riskgate/internal/broker"
)

const (
	defaultRSIPeriod = 14
	defaultATRPeriod = 14
	defaultEMAFast   = 21
	defaultEMASlow   = 50
)

// Snapshot computes the indicator tuple from raw bars. Series too short for
// a given indicator leave that field nil; callers fall back per Indicators.
func Snapshot(candles []broker.Candle) (Indicators, error) {
	if len(candles) == 0 {
		return Indicators{}, fmt.Errorf("no candles")
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	var out Indicators
	if len(closes) > defaultRSIPeriod {
		if v, ok := lastFinite(talib.Rsi(closes, defaultRSIPeriod)); ok {
			out.RSI = &v
		}
	}
	if len(closes) > defaultATRPeriod {
		if v, ok := lastFinite(talib.Atr(highs, lows, closes, defaultATRPeriod)); ok && v > 0 {
			out.ATR = &v
		}
	}
	if len(closes) > defaultEMAFast {
		if v, ok := lastFinite(talib.Ema(closes, defaultEMAFast)); ok {
			out.EMAFast = &v
		}
	}
	if len(closes) > defaultEMASlow {
		if v, ok := lastFinite(talib.Ema(closes, defaultEMASlow)); ok {
			out.EMASlow = &v
		}
	}
	return out, nil
}

func lastFinite(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return 0, false
}

// TrendDirection derives a coarse direction from the EMA pair, used by
// providers that score confidence separately.
func (in Indicators) TrendDirection() (broker.Direction, bool) {
	if in.EMAFast == nil || in.EMASlow == nil {
		return "", false
	}
	if *in.EMAFast > *in.EMASlow {
		return broker.Long, true
	}
	if *in.EMAFast < *in.EMASlow {
		return broker.Short, true
	}
	return "", false
}
