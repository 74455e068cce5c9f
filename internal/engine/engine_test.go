package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"riskgate/internal/admission"
	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/exitrules"
	"riskgate/internal/history"
	"riskgate/internal/monitoring"
	"riskgate/internal/profile"
	"riskgate/internal/signal"
	"riskgate/internal/sizing"
)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) GetSymbolMeta(ctx context.Context, symbol string) (broker.SymbolMeta, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(broker.SymbolMeta), args.Error(1)
}
func (m *MockBroker) GetAccountSnapshot(ctx context.Context) (broker.AccountSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(broker.AccountSnapshot), args.Error(1)
}
func (m *MockBroker) GetOpenPositions(ctx context.Context) ([]broker.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Position), args.Error(1)
}
func (m *MockBroker) GetQuote(ctx context.Context, symbol string) (broker.PriceQuote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(broker.PriceQuote), args.Error(1)
}
func (m *MockBroker) Candles(ctx context.Context, symbol string, limit int) ([]broker.Candle, error) {
	args := m.Called(ctx, symbol, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]broker.Candle), args.Error(1)
}
func (m *MockBroker) IsConnected() bool            { return m.Called().Bool(0) }
func (m *MockBroker) IsMarketOpen(sym string) bool { return m.Called(sym).Bool(0) }

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) OpenPosition(ctx context.Context, symbol string, dir broker.Direction, volume, stop, takeProfit float64) error {
	return m.Called(ctx, symbol, dir, volume, stop, takeProfit).Error(0)
}
func (m *MockExecutor) ClosePosition(ctx context.Context, ticket string, fraction float64) error {
	return m.Called(ctx, ticket, fraction).Error(0)
}
func (m *MockExecutor) AdjustStop(ctx context.Context, ticket string, newStop float64) error {
	return m.Called(ctx, ticket, newStop).Error(0)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Signal(ctx context.Context, symbol string) (signal.Signal, bool) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(signal.Signal), args.Bool(1)
}

var errKlines = errors.New("kline fetch failed")

func testConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{Symbols: []string{"BTCUSDT"}, KlineLimit: 60},
		Engine: config.EngineConfig{PollSeconds: 30, SelectorMinutes: 60, MaxParallelSymbols: 2, MaxParallelPositions: 2},
		Profiles: config.ProfilesConfig{
			Conservative: config.ProfileConfig{RiskPct: 0.5, MaxPositions: 3, StopATRMult: 1.5, MinConfidence: 0.75, MaxDailyLossPct: 2, MaxDrawdownPct: 5, TimeoutMinutes: 240},
			Balanced:     config.ProfileConfig{RiskPct: 1.0, MaxPositions: 5, StopATRMult: 2.0, MinConfidence: 0.65, MaxDailyLossPct: 3, MaxDrawdownPct: 8, TimeoutMinutes: 360},
			Aggressive:   config.ProfileConfig{RiskPct: 2.0, MaxPositions: 8, StopATRMult: 2.5, MinConfidence: 0.55, MaxDailyLossPct: 5, MaxDrawdownPct: 12, TimeoutMinutes: 480},
			Selector:     config.SelectorConfig{LookbackHours: 48, MinTrades: 5, CooldownHours: 3, MaxSwitchesPerDay: 2, WinRateFloor: 0.40, WinRateCeiling: 0.55, ProfitFactorFloor: 1.1, ProfitFactorTarget: 1.4, DrawdownCapR: 2.0, DrawdownCalmR: 1.0},
		},
		Admission: config.AdmissionConfig{SpreadCapForexPct: 0.0003, SpreadCapCryptoPct: 0.0015},
		Sizing: config.SizingConfig{
			ConfidenceTier1: 0.80, ConfidenceTier1Mult: 1.25,
			ConfidenceTier2: 0.90, ConfidenceTier2Mult: 1.5,
			SmallAccountEquity: 1000, SmallAccountMult: 1.2,
			EquityCapDivisor: 5000, HardVolumeCap: 10,
			CongestionFloor: 0.3, MinRiskCurrency: 10,
		},
		Exit: config.ExitConfig{
			TargetR: 1.5, PartialR: 1.0, PartialFraction: 0.5,
			EmergencyStopR: -1.0, RetracePct: 0.35,
			RSIOverbought: 80, RSIOversold: 20,
			OppositeConfidence: 0.70, MinFavorableMovePct: 0.0005, TrailATRMult: 2.0,
		},
	}
}

func testEngine(t *testing.T, bk *MockBroker, ex *MockExecutor, prov *MockProvider) *Engine {
	t.Helper()
	cfg := testConfig()
	catalog := profile.NewCatalog(cfg.Profiles)
	active := profile.NewActiveState(catalog.MustGet(profile.Balanced), cfg.Profiles.Selector.Cooldown(), cfg.Profiles.Selector.MaxSwitchesPerDay)
	store, err := history.Open(filepath.Join(t.TempDir(), "riskgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(Deps{
		Cfg:      cfg,
		Catalog:  catalog,
		Active:   active,
		Selector: profile.NewSelector(catalog, cfg.Profiles.Selector),
		Pipeline: admission.New(cfg.Admission, nil, sizing.New(cfg.Sizing)),
		Exits:    exitrules.New(cfg.Exit, nil),
		Broker:   bk,
		Executor: ex,
		Signals:  prov,
		Store:    store,
		Metrics:  monitoring.New(prometheus.NewRegistry()),
		Health:   monitoring.NewHealth(),
	})
}

func btcMeta() broker.SymbolMeta {
	return broker.SymbolMeta{
		Symbol: "BTCUSDT", Class: broker.AssetCrypto,
		MinVolume: 0.001, MaxVolume: 1000, VolumeStep: 0.001, ContractSize: 1,
	}
}

func account() broker.AccountSnapshot {
	return broker.AccountSnapshot{Equity: 100000, Balance: 100000, PeakEquity: 100000}
}

func TestCycleClosesPositionAtTarget(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)

	pos := broker.Position{
		Ticket: "BTCUSDT:long", Symbol: "BTCUSDT", Direction: broker.Long,
		EntryPrice: 50000, CurrentPrice: 51600, Volume: 1, StopLoss: 49000,
		UnrealizedProfit: 1600,
		OpenedAt:         time.Now().Add(-time.Hour),
	}

	bk.On("GetAccountSnapshot", mock.Anything).Return(account(), nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{pos}, nil)
	bk.On("Candles", mock.Anything, "BTCUSDT", 60).Return([]broker.Candle(nil), errKlines)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)
	// No new admission this cycle: symbol already has a position.
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{}, false).Maybe()

	// +1.6R is past the 1.5R target: close in full.
	ex.On("ClosePosition", mock.Anything, "BTCUSDT:long", 1.0).Return(nil)

	eng.Cycle(context.Background())

	ex.AssertCalled(t, "ClosePosition", mock.Anything, "BTCUSDT:long", 1.0)
	ex.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCycleRecordsClosedTrade(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)
	ctx := context.Background()

	pos := broker.Position{
		Ticket: "BTCUSDT:long", Symbol: "BTCUSDT", Direction: broker.Long,
		EntryPrice: 50000, CurrentPrice: 50400, Volume: 1, StopLoss: 49000,
		UnrealizedProfit: 400,
		OpenedAt:         time.Now().Add(-time.Hour),
	}

	bk.On("GetAccountSnapshot", mock.Anything).Return(account(), nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{pos}, nil).Once()
	bk.On("Candles", mock.Anything, "BTCUSDT", 60).Return([]broker.Candle(nil), errKlines)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{}, false)
	ex.On("AdjustStop", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	eng.Cycle(ctx)

	// Next cycle the ticket is gone: its trade lands in history.
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{}, nil)
	eng.Cycle(ctx)

	trades, err := eng.store.RecentClosedTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BTCUSDT:long", trades[0].Ticket)
	assert.InDelta(t, 400, trades[0].Profit, 1e-9)
}

func TestCycleAdmitsAndPlacesOrder(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)

	bk.On("GetAccountSnapshot", mock.Anything).Return(account(), nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{}, nil)
	bk.On("GetSymbolMeta", mock.Anything, "BTCUSDT").Return(btcMeta(), nil)
	bk.On("GetQuote", mock.Anything, "BTCUSDT").Return(broker.PriceQuote{Bid: 49999, Ask: 50001}, nil)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)

	atr := 500.0
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{
		Symbol:     "BTCUSDT",
		Direction:  broker.Long,
		Confidence: 0.70,
		Indicators: signal.Indicators{ATR: &atr},
	}, true)

	ex.On("OpenPosition", mock.Anything, "BTCUSDT", broker.Long, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	eng.Cycle(context.Background())

	ex.AssertCalled(t, "OpenPosition", mock.Anything, "BTCUSDT", broker.Long, mock.Anything, mock.Anything, mock.Anything)
}

func TestCycleManagesStoplessPositionFromPlacedStop(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)
	ctx := context.Background()

	bk.On("GetAccountSnapshot", mock.Anything).Return(account(), nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{}, nil).Once()
	bk.On("GetSymbolMeta", mock.Anything, "BTCUSDT").Return(btcMeta(), nil)
	bk.On("GetQuote", mock.Anything, "BTCUSDT").Return(broker.PriceQuote{Bid: 49999, Ask: 50001}, nil)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)

	atr := 500.0
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{
		Symbol: "BTCUSDT", Direction: broker.Long, Confidence: 0.70,
		Indicators: signal.Indicators{ATR: &atr},
	}, true)
	ex.On("OpenPosition", mock.Anything, "BTCUSDT", broker.Long, mock.Anything, 49000.0, mock.Anything).Return(nil)

	// Cycle 1 admits and places the order with its derived stop at 49000.
	eng.Cycle(ctx)
	ex.AssertCalled(t, "OpenPosition", mock.Anything, "BTCUSDT", broker.Long, mock.Anything, 49000.0, mock.Anything)

	// Cycle 2: the venue reports the position but keeps the protective stop
	// as a separate order, so the snapshot carries StopLoss 0. The placed
	// stop must flow back in so the R rules can fire: +1600 on a 1000 risk
	// distance is +1.6R, past the 1.5R target.
	pos := broker.Position{
		Ticket: "BTCUSDT:long", Symbol: "BTCUSDT", Direction: broker.Long,
		EntryPrice: 50000, CurrentPrice: 51600, Volume: 1,
		UnrealizedProfit: 1600,
		OpenedAt:         time.Now(),
	}
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{pos}, nil)
	bk.On("Candles", mock.Anything, "BTCUSDT", 60).Return([]broker.Candle(nil), errKlines)
	ex.On("ClosePosition", mock.Anything, "BTCUSDT:long", 1.0).Return(nil)

	eng.Cycle(ctx)
	ex.AssertCalled(t, "ClosePosition", mock.Anything, "BTCUSDT:long", 1.0)
}

func TestAdmissionBlockedByTrackedDrawdown(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)
	ctx := context.Background()

	// Cycle 1 establishes the high-water mark at 100000.
	bk.On("GetAccountSnapshot", mock.Anything).
		Return(broker.AccountSnapshot{Equity: 100000, Balance: 100000}, nil).Once()
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{}, nil)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{}, false).Once()
	eng.Cycle(ctx)

	// Cycle 2: the adapter-shaped snapshot reports zero PeakEquity, but the
	// account is 50% off the tracked peak against an 8% profile cap.
	bk.On("GetAccountSnapshot", mock.Anything).
		Return(broker.AccountSnapshot{Equity: 50000, Balance: 50000}, nil)
	bk.On("GetSymbolMeta", mock.Anything, "BTCUSDT").Return(btcMeta(), nil)
	bk.On("GetQuote", mock.Anything, "BTCUSDT").Return(broker.PriceQuote{Bid: 49999, Ask: 50001}, nil)
	atr := 500.0
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{
		Symbol: "BTCUSDT", Direction: broker.Long, Confidence: 0.70,
		Indicators: signal.Indicators{ATR: &atr},
	}, true)

	eng.Cycle(ctx)

	ex.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	audits, err := eng.store.RecentAudits(ctx, history.AuditKindAdmission, 1)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.False(t, audits[0].Accepted)
	assert.Equal(t, admission.GateAccountRisk, audits[0].Gate)
}

func TestAdmissionBlockedByDailyLossFromHistory(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)
	ctx := context.Background()

	// Today's realized loss lives only in the history store: -2000 on a
	// 50000 account is 4%, past the balanced profile's 3% cap.
	require.NoError(t, eng.store.RecordClosedTrade(ctx, history.ClosedTrade{
		Ticket: "BTCUSDT:long", Symbol: "BTCUSDT", Direction: "long",
		Profit: -2000, RiskAmount: 500,
		OpenedAt: time.Now().UTC().Add(-2 * time.Hour),
		ClosedAt: time.Now().UTC(),
	}))

	bk.On("GetAccountSnapshot", mock.Anything).
		Return(broker.AccountSnapshot{Equity: 50000, Balance: 50000}, nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{}, nil)
	bk.On("GetSymbolMeta", mock.Anything, "BTCUSDT").Return(btcMeta(), nil)
	bk.On("GetQuote", mock.Anything, "BTCUSDT").Return(broker.PriceQuote{Bid: 49999, Ask: 50001}, nil)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)
	atr := 500.0
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{
		Symbol: "BTCUSDT", Direction: broker.Long, Confidence: 0.70,
		Indicators: signal.Indicators{ATR: &atr},
	}, true)

	eng.Cycle(ctx)

	ex.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	audits, err := eng.store.RecentAudits(ctx, history.AuditKindAdmission, 1)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, admission.GateAccountRisk, audits[0].Gate)
}

func TestCycleKillSwitchBlocksAdmissions(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)
	eng.SetKillSwitch(true)

	bk.On("GetAccountSnapshot", mock.Anything).Return(account(), nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{}, nil)
	bk.On("GetSymbolMeta", mock.Anything, "BTCUSDT").Return(btcMeta(), nil)
	bk.On("GetQuote", mock.Anything, "BTCUSDT").Return(broker.PriceQuote{Bid: 49999, Ask: 50001}, nil)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)

	atr := 500.0
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{
		Symbol: "BTCUSDT", Direction: broker.Long, Confidence: 0.70,
		Indicators: signal.Indicators{ATR: &atr},
	}, true)

	eng.Cycle(context.Background())

	ex.AssertNotCalled(t, "OpenPosition", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelledContextDiscardsDecisions(t *testing.T) {
	bk := new(MockBroker)
	ex := new(MockExecutor)
	prov := new(MockProvider)
	eng := testEngine(t, bk, ex, prov)

	pos := broker.Position{
		Ticket: "BTCUSDT:long", Symbol: "BTCUSDT", Direction: broker.Long,
		EntryPrice: 50000, CurrentPrice: 51600, Volume: 1, StopLoss: 49000,
		UnrealizedProfit: 1600,
		OpenedAt:         time.Now().Add(-time.Hour),
	}

	bk.On("GetAccountSnapshot", mock.Anything).Return(account(), nil)
	bk.On("GetOpenPositions", mock.Anything).Return([]broker.Position{pos}, nil)
	bk.On("Candles", mock.Anything, "BTCUSDT", 60).Return([]broker.Candle(nil), errKlines)
	bk.On("IsConnected").Return(true)
	bk.On("IsMarketOpen", "BTCUSDT").Return(true)
	prov.On("Signal", mock.Anything, "BTCUSDT").Return(signal.Signal{}, false).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng.Cycle(ctx)

	ex.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything, mock.Anything)
}

func TestLedgerTracksPeakAndFraction(t *testing.T) {
	l := newLedger()

	pos := broker.Position{
		Ticket: "T:long", Symbol: "T", Direction: broker.Long,
		Volume: 10, UnrealizedProfit: 100,
		OpenedAt: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
	}
	got := l.enrich(pos)
	assert.InDelta(t, 100, got.PeakProfit, 1e-9)
	assert.InDelta(t, 10, got.InitialVolume, 1e-9)

	pos.UnrealizedProfit = 50 // pullback keeps the old peak
	got = l.enrich(pos)
	assert.InDelta(t, 100, got.PeakProfit, 1e-9)

	l.recordReduction("T:long", 0.4, "scale_out_ladder")
	got = l.enrich(pos)
	assert.InDelta(t, 0.4, got.ClosedFraction, 1e-9)

	// Ticket reuse with a new open time starts clean.
	pos.OpenedAt = pos.OpenedAt.Add(time.Hour)
	pos.UnrealizedProfit = 10
	got = l.enrich(pos)
	assert.InDelta(t, 10, got.PeakProfit, 1e-9)
	assert.Zero(t, got.ClosedFraction)
}

func TestLedgerCarriesPlacedStop(t *testing.T) {
	l := newLedger()
	l.seed("BTCUSDT", broker.Long, 1000, 49000, "balanced")

	pos := broker.Position{
		Ticket: "BTCUSDT:long", Symbol: "BTCUSDT", Direction: broker.Long,
		Volume: 1, OpenedAt: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
	}
	got := l.enrich(pos)
	assert.InDelta(t, 49000, got.StopLoss, 1e-9)

	// An applied stop adjustment advances the tracked stop.
	l.recordStop("BTCUSDT:long", 50000)
	got = l.enrich(pos)
	assert.InDelta(t, 50000, got.StopLoss, 1e-9)

	// When the venue does report a stop on the position, it wins.
	pos.StopLoss = 50500
	got = l.enrich(pos)
	assert.InDelta(t, 50500, got.StopLoss, 1e-9)
}

func TestFractionOfCurrent(t *testing.T) {
	pos := broker.Position{Volume: 6, InitialVolume: 10}
	// Closing 30% of initial = 3 units = half of the current 6.
	assert.InDelta(t, 0.5, fractionOfCurrent(0.3, pos), 1e-9)
	// Never above 1.
	assert.Equal(t, 1.0, fractionOfCurrent(0.9, pos))
	// Unknown initial volume falls back to current.
	pos.InitialVolume = 0
	assert.InDelta(t, 0.3, fractionOfCurrent(0.3, pos), 1e-9)
}
