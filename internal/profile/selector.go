package profile

import (
	"fmt"
	"time"

	"riskgate/internal/config"
	"riskgate/internal/logger"
)

// TradeResult is one closed trade as supplied by the history store.
type TradeResult struct {
	Symbol     string
	ClosedAt   time.Time
	Profit     float64
	RiskAmount float64
}

// R expresses the realized profit in risk units. Trades with unknown risk
// contribute zero R rather than poisoning the drawdown series.
func (t TradeResult) R() float64 {
	if t.RiskAmount <= 0 {
		return 0
	}
	return t.Profit / t.RiskAmount
}

// Metrics are the trailing-performance numbers the selector decides on.
type Metrics struct {
	Trades       int
	WinRate      float64
	ProfitFactor float64
	MaxDrawdownR float64
	ExpectancyR  float64
}

// Selector retunes global risk appetite from trailing performance.
type Selector struct {
	catalog *Catalog
	cfg     config.SelectorConfig
}

func NewSelector(catalog *Catalog, cfg config.SelectorConfig) *Selector {
	return &Selector{catalog: catalog, cfg: cfg}
}

// ComputeMetrics folds the closed trades inside the lookback window.
func ComputeMetrics(trades []TradeResult, since time.Time) Metrics {
	var m Metrics
	var grossWin, grossLoss, sumR float64
	var wins int
	var cumR, peakR float64

	for _, t := range trades {
		if t.ClosedAt.Before(since) {
			continue
		}
		m.Trades++
		if t.Profit > 0 {
			wins++
			grossWin += t.Profit
		} else {
			grossLoss += -t.Profit
		}
		r := t.R()
		sumR += r
		cumR += r
		if cumR > peakR {
			peakR = cumR
		}
		if dd := peakR - cumR; dd > m.MaxDrawdownR {
			m.MaxDrawdownR = dd
		}
	}
	if m.Trades == 0 {
		return m
	}
	m.WinRate = float64(wins) / float64(m.Trades)
	m.ExpectancyR = sumR / float64(m.Trades)
	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		// All winners; treat as very strong rather than dividing by zero.
		m.ProfitFactor = grossWin
	}
	return m
}

// Evaluate picks a profile from the lookback window. Rules run in order:
// any weak metric forces CONSERVATIVE, all strong metrics allow AGGRESSIVE,
// everything else (including a thin sample) lands on BALANCED.
func (s *Selector) Evaluate(trades []TradeResult, now time.Time) (Profile, string) {
	since := now.Add(-time.Duration(s.cfg.LookbackHours) * time.Hour)
	m := ComputeMetrics(trades, since)

	if m.Trades < s.cfg.MinTrades {
		return s.catalog.MustGet(Balanced),
			fmt.Sprintf("only %d trades in lookback (need %d)", m.Trades, s.cfg.MinTrades)
	}

	logger.Debugf("selector metrics: trades=%d win_rate=%.2f pf=%.2f dd=%.2fR expectancy=%.2fR",
		m.Trades, m.WinRate, m.ProfitFactor, m.MaxDrawdownR, m.ExpectancyR)

	if m.WinRate < s.cfg.WinRateFloor {
		return s.catalog.MustGet(Conservative),
			fmt.Sprintf("win rate %.1f%% below %.1f%%", m.WinRate*100, s.cfg.WinRateFloor*100)
	}
	if m.MaxDrawdownR > s.cfg.DrawdownCapR {
		return s.catalog.MustGet(Conservative),
			fmt.Sprintf("drawdown %.2fR above %.2fR", m.MaxDrawdownR, s.cfg.DrawdownCapR)
	}
	if m.ProfitFactor < s.cfg.ProfitFactorFloor {
		return s.catalog.MustGet(Conservative),
			fmt.Sprintf("profit factor %.2f below %.2f", m.ProfitFactor, s.cfg.ProfitFactorFloor)
	}

	if m.WinRate > s.cfg.WinRateCeiling &&
		m.ProfitFactor > s.cfg.ProfitFactorTarget &&
		m.MaxDrawdownR < s.cfg.DrawdownCalmR {
		return s.catalog.MustGet(Aggressive),
			fmt.Sprintf("win rate %.1f%%, pf %.2f, drawdown %.2fR", m.WinRate*100, m.ProfitFactor, m.MaxDrawdownR)
	}

	return s.catalog.MustGet(Balanced), "metrics in neutral band"
}
