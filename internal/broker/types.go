package broker

import "time"

// Direction of a trade or position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// AssetClass groups instruments for spread caps and sizing formulas.
type AssetClass string

const (
	AssetForex  AssetClass = "forex"
	AssetCrypto AssetClass = "crypto"
)

// SymbolMeta is the broker's static instrument metadata, read-only per cycle.
// All computed prices and volumes must be normalized against it before use.
type SymbolMeta struct {
	Symbol       string
	Class        AssetClass
	PointSize    float64
	Digits       int
	MinVolume    float64
	MaxVolume    float64
	VolumeStep   float64
	ContractSize float64
	MinStopDist  float64
}

// ContractBased reports whether the instrument sizes like a crypto-style CFD
// (volume in contracts) rather than forex lots.
func (m SymbolMeta) ContractBased() bool {
	return m.MinVolume >= 1
}

// AccountSnapshot is the per-cycle account state. Equity must be positive for
// any sizing or exposure computation; otherwise every gate fails closed.
type AccountSnapshot struct {
	Equity     float64
	Balance    float64
	FreeMargin float64
	PeakEquity float64
	DailyPnL   float64
	Currency   string
	UpdatedAt  time.Time
}

// PriceQuote is a live two-sided quote.
type PriceQuote struct {
	Symbol string
	Bid    float64
	Ask    float64
	At     time.Time
}

// Mid returns the quote midpoint, 0 when either side is missing.
func (q PriceQuote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// SpreadPct returns the relative spread, 0 when the quote is unusable.
func (q PriceQuote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return (q.Ask - q.Bid) / mid
}

// Position is a per-cycle snapshot of one open position. The engine never
// mutates broker state through it; decisions flow back to the caller.
type Position struct {
	Ticket           string
	Symbol           string
	Direction        Direction
	EntryPrice       float64
	CurrentPrice     float64
	Volume           float64
	InitialVolume    float64
	StopLoss         float64
	TakeProfit       float64
	OpenedAt         time.Time
	RealizedProfit   float64
	UnrealizedProfit float64
	ClosedFraction   float64
	PeakProfit       float64
	PyramidApplied   bool
}

// FavorableMove is the signed price move in the position's direction.
func (p Position) FavorableMove() float64 {
	if p.Direction == Short {
		return p.EntryPrice - p.CurrentPrice
	}
	return p.CurrentPrice - p.EntryPrice
}

// RiskUnit is the initial stop distance R. Zero when no stop was set.
func (p Position) RiskUnit() float64 {
	if p.StopLoss <= 0 || p.EntryPrice <= 0 {
		return 0
	}
	r := p.EntryPrice - p.StopLoss
	if r < 0 {
		r = -r
	}
	return r
}

// ProfitR expresses the favorable move as a multiple of the initial stop
// distance. Returns (0,false) when R is unknown.
func (p Position) ProfitR() (float64, bool) {
	r := p.RiskUnit()
	if r <= 0 {
		return 0, false
	}
	return p.FavorableMove() / r, true
}

// Candle is one OHLCV bar supplied by the broker adapter.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
