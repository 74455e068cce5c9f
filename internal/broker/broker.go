package broker

import "context"

// Broker is the execution-venue boundary. Implementations resolve all data
// before the engine's evaluation cycle; the core never blocks on it mid-gate.
type Broker interface {
	GetSymbolMeta(ctx context.Context, symbol string) (SymbolMeta, error)
	GetAccountSnapshot(ctx context.Context) (AccountSnapshot, error)
	GetOpenPositions(ctx context.Context) ([]Position, error)
	GetQuote(ctx context.Context, symbol string) (PriceQuote, error)
	Candles(ctx context.Context, symbol string, limit int) ([]Candle, error)
	IsConnected() bool
	IsMarketOpen(symbol string) bool
}

// Executor applies admission and exit decisions downstream. Order placement
// owns its own retry and timeout semantics; the core only emits decisions.
type Executor interface {
	OpenPosition(ctx context.Context, symbol string, dir Direction, volume, stop, takeProfit float64) error
	ClosePosition(ctx context.Context, ticket string, fraction float64) error
	AdjustStop(ctx context.Context, ticket string, newStop float64) error
}
