package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"riskgate/internal/logger"
)

const maxKlineLimit = 1500

// BinanceBroker implements Broker and Executor on top of Binance USD-M
// futures. Crypto perpetuals trade around the clock, so IsMarketOpen is
// always true here.
type BinanceBroker struct {
	client *futures.Client

	metaMu    sync.RWMutex
	metaCache map[string]SymbolMeta
	metaAt    time.Time

	connMu    sync.RWMutex
	connected bool
	lastPing  time.Time
}

func NewBinanceBroker(apiKey, apiSecret string, testnet bool) *BinanceBroker {
	futures.UseTestnet = testnet
	client := futures.NewClient(apiKey, apiSecret)
	return &BinanceBroker{
		client:    client,
		metaCache: make(map[string]SymbolMeta),
	}
}

func (b *BinanceBroker) GetSymbolMeta(ctx context.Context, symbol string) (SymbolMeta, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return SymbolMeta{}, fmt.Errorf("symbol is required")
	}
	b.metaMu.RLock()
	meta, ok := b.metaCache[symbol]
	fresh := time.Since(b.metaAt) < time.Hour
	b.metaMu.RUnlock()
	if ok && fresh {
		return meta, nil
	}
	if err := b.refreshExchangeInfo(ctx); err != nil {
		// Serve a stale entry rather than fail the cycle outright.
		if ok {
			logger.Warnf("[binance] exchange info refresh failed, using cached meta for %s: %v", symbol, err)
			return meta, nil
		}
		return SymbolMeta{}, err
	}
	b.metaMu.RLock()
	defer b.metaMu.RUnlock()
	meta, ok = b.metaCache[symbol]
	if !ok {
		return SymbolMeta{}, fmt.Errorf("unknown symbol: %s", symbol)
	}
	return meta, nil
}

func (b *BinanceBroker) refreshExchangeInfo(ctx context.Context) error {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	cache := make(map[string]SymbolMeta, len(info.Symbols))
	for _, s := range info.Symbols {
		lot := s.LotSizeFilter()
		price := s.PriceFilter()
		if lot == nil || price == nil {
			continue
		}
		tick := parseFloat(price.TickSize)
		meta := SymbolMeta{
			Symbol:       s.Symbol,
			Class:        AssetCrypto,
			PointSize:    tick,
			Digits:       s.PricePrecision,
			MinVolume:    parseFloat(lot.MinQuantity),
			MaxVolume:    parseFloat(lot.MaxQuantity),
			VolumeStep:   parseFloat(lot.StepSize),
			ContractSize: 1,
			MinStopDist:  tick * 5,
		}
		cache[s.Symbol] = meta
	}
	b.metaMu.Lock()
	b.metaCache = cache
	b.metaAt = time.Now()
	b.metaMu.Unlock()
	return nil
}

func (b *BinanceBroker) GetAccountSnapshot(ctx context.Context) (AccountSnapshot, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		b.setConnected(false)
		return AccountSnapshot{}, fmt.Errorf("account: %w", err)
	}
	b.setConnected(true)
	balance := parseFloat(acct.TotalWalletBalance)
	equity := parseFloat(acct.TotalMarginBalance)
	return AccountSnapshot{
		Equity:     equity,
		Balance:    balance,
		FreeMargin: parseFloat(acct.AvailableBalance),
		Currency:   "USDT",
		UpdatedAt:  time.Now(),
	}, nil
}

func (b *BinanceBroker) GetOpenPositions(ctx context.Context) ([]Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		b.setConnected(false)
		return nil, fmt.Errorf("position risk: %w", err)
	}
	b.setConnected(true)
	out := make([]Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		dir := Long
		volume := amt
		if amt < 0 {
			dir = Short
			volume = -amt
		}
		out = append(out, Position{
			Ticket:           positionTicket(r.Symbol, dir),
			Symbol:           r.Symbol,
			Direction:        dir,
			EntryPrice:       parseFloat(r.EntryPrice),
			CurrentPrice:     parseFloat(r.MarkPrice),
			Volume:           volume,
			InitialVolume:    volume,
			UnrealizedProfit: parseFloat(r.UnRealizedProfit),
		})
	}
	return out, nil
}

func (b *BinanceBroker) GetQuote(ctx context.Context, symbol string) (PriceQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	tickers, err := b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("book ticker %s: %w", symbol, err)
	}
	if len(tickers) == 0 || tickers[0] == nil {
		return PriceQuote{}, fmt.Errorf("no book ticker for %s", symbol)
	}
	t := tickers[0]
	return PriceQuote{
		Symbol: symbol,
		Bid:    parseFloat(t.BidPrice),
		Ask:    parseFloat(t.AskPrice),
		At:     time.Now(),
	}, nil
}

func (b *BinanceBroker) Candles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	kls, err := b.client.NewKlinesService().Symbol(symbol).Interval("15m").Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime: time.UnixMilli(kl.OpenTime),
			Open:     parseFloat(kl.Open),
			High:     parseFloat(kl.High),
			Low:      parseFloat(kl.Low),
			Close:    parseFloat(kl.Close),
			Volume:   parseFloat(kl.Volume),
		})
	}
	return out, nil
}

func (b *BinanceBroker) IsConnected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected
}

func (b *BinanceBroker) IsMarketOpen(string) bool { return true }

// Ping refreshes connectivity state; the engine calls it once per cycle.
func (b *BinanceBroker) Ping(ctx context.Context) error {
	err := b.client.NewPingService().Do(ctx)
	b.setConnected(err == nil)
	return err
}

func (b *BinanceBroker) setConnected(ok bool) {
	b.connMu.Lock()
	b.connected = ok
	if ok {
		b.lastPing = time.Now()
	}
	b.connMu.Unlock()
}

// OpenPosition places a market order for the approved volume.
func (b *BinanceBroker) OpenPosition(ctx context.Context, symbol string, dir Direction, volume, stop, takeProfit float64) error {
	side := futures.SideTypeBuy
	if dir == Short {
		side = futures.SideTypeSell
	}
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatVolume(volume)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("open %s %s: %w", symbol, dir, err)
	}
	if stop > 0 {
		if err := b.placeStop(ctx, symbol, dir, volume, stop); err != nil {
			logger.Errorf("[binance] stop order after open failed %s: %v", symbol, err)
		}
	}
	return nil
}

// ClosePosition reduces an open position by fraction of its current volume.
func (b *BinanceBroker) ClosePosition(ctx context.Context, ticket string, fraction float64) error {
	symbol, dir, err := splitTicket(ticket)
	if err != nil {
		return err
	}
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("close fraction out of range: %.4f", fraction)
	}
	positions, err := b.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != symbol || p.Direction != dir {
			continue
		}
		side := futures.SideTypeSell
		if dir == Short {
			side = futures.SideTypeBuy
		}
		_, err := b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(formatVolume(p.Volume * fraction)).
			ReduceOnly(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("close %s: %w", ticket, err)
		}
		return nil
	}
	return fmt.Errorf("no open position for %s", ticket)
}

// AdjustStop replaces the protective stop with a new stop-market order.
func (b *BinanceBroker) AdjustStop(ctx context.Context, ticket string, newStop float64) error {
	symbol, dir, err := splitTicket(ticket)
	if err != nil {
		return err
	}
	if newStop <= 0 {
		return fmt.Errorf("invalid stop price: %.8f", newStop)
	}
	if err := b.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel stops %s: %w", symbol, err)
	}
	positions, err := b.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != symbol || p.Direction != dir {
			continue
		}
		return b.placeStop(ctx, symbol, dir, p.Volume, newStop)
	}
	return fmt.Errorf("no open position for %s", ticket)
}

func (b *BinanceBroker) placeStop(ctx context.Context, symbol string, dir Direction, volume, stop float64) error {
	side := futures.SideTypeSell
	if dir == Short {
		side = futures.SideTypeBuy
	}
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeStopMarket).
		StopPrice(strconv.FormatFloat(stop, 'f', -1, 64)).
		Quantity(formatVolume(volume)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("stop order %s: %w", symbol, err)
	}
	return nil
}

func positionTicket(symbol string, dir Direction) string {
	return symbol + ":" + string(dir)
}

func splitTicket(ticket string) (string, Direction, error) {
	parts := strings.SplitN(ticket, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed ticket: %s", ticket)
	}
	dir := Direction(parts[1])
	if !dir.Valid() {
		return "", "", fmt.Errorf("malformed ticket direction: %s", ticket)
	}
	return parts[0], dir, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
