package signal

import (
	"context"
	"math"

	"riskgate/internal/broker"
	"riskgate/internal/logger"
)

// TrendProvider is the built-in EMA-crossover provider. It scores confidence
// from the EMA spread and the RSI's agreement with the trend, so a wide
// crossover with momentum behind it outranks a fresh marginal one.
type TrendProvider struct {
	broker     broker.Broker
	klineLimit int
	style      string
}

func NewTrendProvider(b broker.Broker, klineLimit int, style string) *TrendProvider {
	if klineLimit <= 0 {
		klineLimit = 240
	}
	return &TrendProvider{broker: b, klineLimit: klineLimit, style: style}
}

func (p *TrendProvider) Signal(ctx context.Context, symbol string) (Signal, bool) {
	candles, err := p.broker.Candles(ctx, symbol, p.klineLimit)
	if err != nil {
		logger.Warnf("trend provider %s: candles: %v", symbol, err)
		return Signal{}, false
	}
	ind, err := Snapshot(candles)
	if err != nil {
		return Signal{}, false
	}
	dir, ok := ind.TrendDirection()
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Symbol:     symbol,
		Direction:  dir,
		Confidence: p.confidence(ind, dir),
		Style:      p.style,
		Indicators: ind,
	}, true
}

// confidence maps the indicator tuple into [0,1]. Base 0.5 for any valid
// crossover, up to +0.25 for EMA separation and +0.25 for RSI alignment.
func (p *TrendProvider) confidence(ind Indicators, dir broker.Direction) float64 {
	score := 0.5

	if ind.EMAFast != nil && ind.EMASlow != nil && *ind.EMASlow != 0 {
		spread := math.Abs(*ind.EMAFast-*ind.EMASlow) / math.Abs(*ind.EMASlow)
		score += math.Min(spread/0.02, 1.0) * 0.25
	}

	rsi := ind.RSIOr(NeutralRSI)
	switch dir {
	case broker.Long:
		if rsi > NeutralRSI {
			score += math.Min((rsi-NeutralRSI)/25, 1.0) * 0.25
		}
	case broker.Short:
		if rsi < NeutralRSI {
			score += math.Min((NeutralRSI-rsi)/25, 1.0) * 0.25
		}
	}

	return math.Min(score, 1.0)
}
