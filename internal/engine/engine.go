package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"riskgate/internal/admission"
	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/decision"
	"riskgate/internal/exitrules"
	"riskgate/internal/history"
	"riskgate/internal/logger"
	"riskgate/internal/monitoring"
	"riskgate/internal/profile"
	"riskgate/internal/signal"
	"riskgate/internal/sizing"
)

// Deps wires the engine's collaborators. All fields are required except
// Metrics and Health, which degrade to no-ops when nil.
type Deps struct {
	Cfg      *config.Config
	Catalog  *profile.Catalog
	Active   *profile.ActiveState
	Selector *profile.Selector
	Pipeline *admission.Pipeline
	Exits    *exitrules.Engine
	Broker   broker.Broker
	Executor broker.Executor
	Signals  signal.Provider
	Store    *history.Store
	Metrics  *monitoring.Metrics
	Health   *monitoring.Health
}

// Engine runs the admission and exit cycles. One Cycle call evaluates every
// open position and every candidate symbol against a single consistent
// account snapshot.
type Engine struct {
	cfg      *config.Config
	catalog  *profile.Catalog
	active   *profile.ActiveState
	selector *profile.Selector
	pipeline *admission.Pipeline
	exits    *exitrules.Engine
	broker   broker.Broker
	executor broker.Executor
	signals  signal.Provider
	store    *history.Store
	metrics  *monitoring.Metrics
	health   *monitoring.Health

	ledger     *ledger
	killSwitch atomic.Bool

	mu         sync.RWMutex
	lastCycle  time.Time
	lastErr    error
	positions  []broker.Position
	account    broker.AccountSnapshot
	peakEquity float64
}

func New(d Deps) *Engine {
	return &Engine{
		cfg:      d.Cfg,
		catalog:  d.Catalog,
		active:   d.Active,
		selector: d.Selector,
		pipeline: d.Pipeline,
		exits:    d.Exits,
		broker:   d.Broker,
		executor: d.Executor,
		signals:  d.Signals,
		store:    d.Store,
		metrics:  d.Metrics,
		health:   d.Health,
		ledger:   newLedger(),
	}
}

// SetKillSwitch blocks all new admissions; open positions keep being managed.
func (e *Engine) SetKillSwitch(on bool) {
	e.killSwitch.Store(on)
	logger.Warnf("kill switch set to %v", on)
}

func (e *Engine) KillSwitch() bool { return e.killSwitch.Load() }

// Cycle is one full evaluation pass. Position reviews run before new
// admissions so freed capacity is visible to the congestion factor on the
// next cycle, not this one.
func (e *Engine) Cycle(ctx context.Context) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.CycleSeconds.Observe(time.Since(start).Seconds())
			e.metrics.LastCycleEpoch.Set(float64(time.Now().Unix()))
		}
	}()

	account, err := e.broker.GetAccountSnapshot(ctx)
	if err != nil {
		e.cycleFailed("account snapshot", err)
		return
	}
	account = e.enrichAccount(ctx, account)
	raw, err := e.broker.GetOpenPositions(ctx)
	if err != nil {
		e.cycleFailed("open positions", err)
		return
	}

	positions := make([]broker.Position, 0, len(raw))
	openTickets := make(map[string]bool, len(raw))
	openSymbols := make(map[string]bool, len(raw))
	for _, p := range raw {
		enriched := e.ledger.enrich(p)
		positions = append(positions, enriched)
		openTickets[p.Ticket] = true
		openSymbols[p.Symbol] = true
	}

	e.recordClosures(ctx, openTickets)
	e.reviewPositions(ctx, positions)
	e.admitSymbols(ctx, account, positions, openSymbols)

	e.mu.Lock()
	e.lastCycle = time.Now().UTC()
	e.lastErr = nil
	e.account = account
	e.positions = positions
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OpenPositions.Set(float64(len(positions)))
		e.metrics.AccountEquity.Set(account.Equity)
		e.metrics.DailyPnL.Set(account.DailyPnL)
	}
	if e.health != nil {
		e.health.Report("engine", true, "")
	}
}

// enrichAccount fills in the fields the venue adapter cannot report: the
// high-water equity mark is tracked across cycles, today's realized PnL is
// derived from the closed trades in the history store. Without these the
// drawdown and daily-loss breakers would never trip.
func (e *Engine) enrichAccount(ctx context.Context, a broker.AccountSnapshot) broker.AccountSnapshot {
	e.mu.Lock()
	if a.PeakEquity > e.peakEquity {
		e.peakEquity = a.PeakEquity
	}
	if a.Equity > e.peakEquity {
		e.peakEquity = a.Equity
	}
	a.PeakEquity = e.peakEquity
	e.mu.Unlock()

	if a.DailyPnL == 0 && e.store != nil {
		pnl, err := e.store.RealizedPnLSince(ctx, startOfDay(time.Now().UTC()))
		if err != nil {
			logger.Warnf("daily pnl from history: %v", err)
		} else {
			a.DailyPnL = pnl
		}
	}
	return a
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e *Engine) cycleFailed(stage string, err error) {
	logger.Errorf("cycle aborted at %s: %v", stage, err)
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
	if e.health != nil {
		e.health.Report("engine", false, stage+": "+err.Error())
	}
}

// recordClosures persists trades whose tickets vanished from the broker
// snapshot and releases their per-position state.
func (e *Engine) recordClosures(ctx context.Context, openTickets map[string]bool) {
	for _, entry := range e.ledger.popClosed(openTickets) {
		last := entry.LastSeen
		trade := history.ClosedTrade{
			Ticket:     entry.Ticket,
			Symbol:     entry.Symbol,
			Direction:  string(entry.Direction),
			EntryPrice: last.EntryPrice,
			ExitPrice:  last.CurrentPrice,
			Volume:     entry.InitialVolume,
			Profit:     last.RealizedProfit + last.UnrealizedProfit,
			RiskAmount: entry.RiskAmount,
			Profile:    entry.Profile,
			ExitRule:   entry.LastRule,
			OpenedAt:   entry.OpenedAt,
			ClosedAt:   time.Now().UTC(),
		}
		if err := e.store.RecordClosedTrade(ctx, trade); err != nil {
			logger.Errorf("record closed trade %s: %v", entry.Ticket, err)
			continue
		}
		logger.Infof("closed %s %s profit=%.2f rule=%s", trade.Symbol, trade.Direction, trade.Profit, trade.ExitRule)
	}
}

// reviewPositions evaluates exit rules for all open positions in parallel
// and applies the resulting decisions sequentially. A cancelled context
// discards every pending decision unapplied.
func (e *Engine) reviewPositions(ctx context.Context, positions []broker.Position) {
	if len(positions) == 0 {
		return
	}
	activeSnap := e.active.Current()

	var mu sync.Mutex
	decisions := make([]appliedDecision, 0, len(positions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Engine.MaxParallelPositions)
	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			d := e.reviewOne(gctx, pos, activeSnap)
			if d == nil {
				return nil
			}
			mu.Lock()
			decisions = append(decisions, appliedDecision{pos: pos, d: *d})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		logger.Warnf("cycle cancelled, discarding %d exit decisions", len(decisions))
		return
	}
	for _, ad := range decisions {
		e.apply(ctx, ad.pos, ad.d)
	}
}

type appliedDecision struct {
	pos broker.Position
	d   decision.Decision
}

func (e *Engine) reviewOne(ctx context.Context, pos broker.Position, activeSnap profile.Snapshot) *decision.Decision {
	candles, err := e.broker.Candles(ctx, pos.Symbol, e.cfg.Broker.KlineLimit)
	var ind signal.Indicators
	if err != nil {
		logger.Warnf("review %s: candles: %v, proceeding with fallbacks", pos.Ticket, err)
	} else if snap, err := signal.Snapshot(candles); err == nil {
		ind = snap
	}

	var opposite *signal.Signal
	if sig, ok := e.signals.Signal(ctx, pos.Symbol); ok && sig.Direction == pos.Direction.Opposite() {
		opposite = &sig
	}

	prof := activeSnap.Profile
	if entry, ok := e.ledger.get(pos.Ticket); ok && entry.Profile != "" {
		// The profile in force at entry governs the position's timeout.
		if p, err := e.catalog.Get(profile.Name(entry.Profile)); err == nil {
			prof = p
		}
	}

	return e.exits.Review(&exitrules.Context{
		Position:   pos,
		Indicators: ind,
		Opposite:   opposite,
		Profile:    prof,
		Now:        time.Now().UTC(),
	})
}

// apply translates one decision into executor calls and bookkeeping.
// Decision fractions are of the initial volume; the broker closes by
// fraction of the current volume.
func (e *Engine) apply(ctx context.Context, pos broker.Position, d decision.Decision) {
	var err error
	switch d.Action {
	case decision.CloseFull:
		err = e.executor.ClosePosition(ctx, pos.Ticket, 1.0)
		if err == nil {
			remaining := 1 - pos.ClosedFraction
			e.ledger.recordReduction(pos.Ticket, remaining, d.Rule)
		}
	case decision.ClosePartial:
		brokerFrac := fractionOfCurrent(d.Fraction, pos)
		if brokerFrac <= 0 {
			return
		}
		err = e.executor.ClosePosition(ctx, pos.Ticket, brokerFrac)
		if err == nil {
			e.ledger.recordReduction(pos.Ticket, d.Fraction, d.Rule)
			if d.MoveToBreakeven {
				if serr := e.executor.AdjustStop(ctx, pos.Ticket, pos.EntryPrice); serr != nil {
					logger.Errorf("breakeven stop %s: %v", pos.Ticket, serr)
				} else {
					e.ledger.recordStop(pos.Ticket, pos.EntryPrice)
				}
			}
		}
	case decision.AdjustStop:
		err = e.executor.AdjustStop(ctx, pos.Ticket, d.NewStop)
		if err == nil {
			e.ledger.recordRule(pos.Ticket, d.Rule)
			e.ledger.recordStop(pos.Ticket, d.NewStop)
		}
	default:
		return
	}
	if err != nil {
		logger.Errorf("apply %s on %s: %v", d.Action, pos.Ticket, err)
		return
	}
	e.exits.Acknowledge(pos, d)
	if e.metrics != nil {
		e.metrics.ExitActionsTotal.WithLabelValues(d.Rule, d.Action.String()).Inc()
	}
	e.auditExit(ctx, pos, d)
}

// fractionOfCurrent converts an initial-volume fraction into the current-
// volume fraction the broker expects.
func fractionOfCurrent(initialFrac float64, pos broker.Position) float64 {
	if pos.Volume <= 0 {
		return 0
	}
	initial := pos.InitialVolume
	if initial <= 0 {
		initial = pos.Volume
	}
	f := initialFrac * initial / pos.Volume
	return math.Min(f, 1.0)
}

func (e *Engine) auditExit(ctx context.Context, pos broker.Position, d decision.Decision) {
	err := e.store.RecordAudit(ctx, history.DecisionAudit{
		Kind:     history.AuditKindExit,
		Symbol:   pos.Symbol,
		Ticket:   pos.Ticket,
		Accepted: true,
		Rule:     d.Rule,
	}, map[string]any{
		"action":   d.Action.String(),
		"fraction": d.Fraction,
		"new_stop": d.NewStop,
		"reason":   d.Reason,
	})
	if err != nil {
		logger.Errorf("audit exit %s: %v", pos.Ticket, err)
	}
}

// admitSymbols runs the admission pipeline for every configured symbol that
// has no open position, in parallel, and places accepted orders.
func (e *Engine) admitSymbols(ctx context.Context, account broker.AccountSnapshot, positions []broker.Position, openSymbols map[string]bool) {
	activeSnap := e.active.Current()
	connected := e.broker.IsConnected()
	kill := e.killSwitch.Load()
	now := time.Now().UTC()

	var mu sync.Mutex
	type accepted struct {
		sig signal.Signal
		res admission.Result
	}
	var wins []accepted

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Engine.MaxParallelSymbols)
	for _, symbol := range e.cfg.Broker.Symbols {
		if openSymbols[symbol] {
			continue
		}
		symbol := symbol
		g.Go(func() error {
			sig, ok := e.signals.Signal(gctx, symbol)
			if !ok {
				return nil
			}
			res := e.admitOne(gctx, sig, account, activeSnap, positions, connected, kill, now)
			if !res.Accepted {
				return nil
			}
			mu.Lock()
			wins = append(wins, accepted{sig: sig, res: res})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		logger.Warnf("cycle cancelled, discarding %d admissions", len(wins))
		return
	}
	for _, w := range wins {
		e.place(ctx, w.sig, w.res, activeSnap)
	}
}

func (e *Engine) admitOne(ctx context.Context, sig signal.Signal, account broker.AccountSnapshot, activeSnap profile.Snapshot, positions []broker.Position, connected, kill bool, now time.Time) admission.Result {
	var metaPtr *broker.SymbolMeta
	if meta, err := e.broker.GetSymbolMeta(ctx, sig.Symbol); err == nil {
		metaPtr = &meta
	} else {
		logger.Warnf("admission %s: symbol meta: %v", sig.Symbol, err)
	}

	quote, err := e.broker.GetQuote(ctx, sig.Symbol)
	if err != nil {
		logger.Warnf("admission %s: quote: %v", sig.Symbol, err)
	}

	engineRiskPct := 0.0
	if style, ok := e.cfg.Styles[sig.Style]; ok {
		engineRiskPct = style.RiskPct
	}

	res := e.pipeline.Admit(admission.Input{
		Proposal: admission.Proposal{
			Symbol:     sig.Symbol,
			Direction:  sig.Direction,
			Confidence: sig.Confidence,
			ATR:        sig.Indicators.ATROr(quote.Mid()),
			Style:      sig.Style,
		},
		Account:       account,
		Quote:         quote,
		Meta:          metaPtr,
		Profile:       activeSnap,
		OpenPositions: positions,
		Connected:     connected,
		KillSwitch:    kill,
		MarketOpen:    e.broker.IsMarketOpen(sig.Symbol),
		EngineRiskPct: engineRiskPct,
		Now:           now,
	})

	if e.metrics != nil {
		if res.Accepted {
			e.metrics.AdmissionsTotal.WithLabelValues(sig.Symbol).Inc()
		} else {
			e.metrics.RejectionsTotal.WithLabelValues(res.FailedGate).Inc()
		}
	}
	e.auditAdmission(ctx, sig, res)
	return res
}

func (e *Engine) auditAdmission(ctx context.Context, sig signal.Signal, res admission.Result) {
	err := e.store.RecordAudit(ctx, history.DecisionAudit{
		Kind:     history.AuditKindAdmission,
		Symbol:   sig.Symbol,
		Accepted: res.Accepted,
		Gate:     res.FailedGate,
	}, map[string]any{
		"direction":  sig.Direction,
		"confidence": sig.Confidence,
		"volume":     res.Volume,
		"stop":       res.StopPrice,
		"reasons":    res.Reasons,
	})
	if err != nil {
		logger.Errorf("audit admission %s: %v", sig.Symbol, err)
	}
}

func (e *Engine) place(ctx context.Context, sig signal.Signal, res admission.Result, activeSnap profile.Snapshot) {
	if err := e.executor.OpenPosition(ctx, sig.Symbol, sig.Direction, res.Volume, res.StopPrice, res.TakePrice); err != nil {
		logger.Errorf("open %s %s: %v", sig.Symbol, sig.Direction, err)
		return
	}
	riskAmount := 0.0
	if meta, err := e.broker.GetSymbolMeta(ctx, sig.Symbol); err == nil {
		if quote, err := e.broker.GetQuote(ctx, sig.Symbol); err == nil && res.StopPrice > 0 {
			riskAmount = math.Abs(quote.Mid()-res.StopPrice) * res.Volume * sizing.ContractUnits(meta)
		}
	}
	e.ledger.seed(sig.Symbol, sig.Direction, riskAmount, res.StopPrice, string(activeSnap.Profile.Name))
	logger.Infof("opened %s %s volume=%.4f stop=%.8f confidence=%.2f",
		sig.Symbol, sig.Direction, res.Volume, res.StopPrice, sig.Confidence)
}

// EvaluateProfile runs the selector over the lookback window and applies
// its verdict through the stability guard.
func (e *Engine) EvaluateProfile(ctx context.Context) {
	lookback := time.Duration(e.cfg.Profiles.Selector.LookbackHours) * time.Hour
	now := time.Now().UTC()
	trades, err := e.store.TradeResultsSince(ctx, now.Add(-lookback))
	if err != nil {
		logger.Errorf("selector: load trade results: %v", err)
		return
	}
	target, reason := e.selector.Evaluate(trades, now)
	outcome := e.active.TrySwitch(target, reason)
	if outcome.Switched {
		logger.Infof("profile switched to %s: %s", target.Name, reason)
		if e.metrics != nil {
			e.metrics.ProfileSwitches.Inc()
		}
	} else {
		logger.Debugf("profile unchanged (%s): %s", outcome.Active.Profile.Name, outcome.Reason)
	}
	if e.metrics != nil {
		e.metrics.SetActiveProfile(string(e.active.Current().Profile.Name),
			[]string{string(profile.Conservative), string(profile.Balanced), string(profile.Aggressive)})
	}
}

// Status is the snapshot served by the HTTP API.
type Status struct {
	LastCycle   time.Time               `json:"last_cycle"`
	LastError   string                  `json:"last_error,omitempty"`
	KillSwitch  bool                    `json:"kill_switch"`
	Profile     profile.Snapshot        `json:"profile"`
	Account     broker.AccountSnapshot  `json:"account"`
	Positions   []broker.Position       `json:"positions"`
	OpenCount   int                     `json:"open_count"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		LastCycle:  e.lastCycle,
		KillSwitch: e.killSwitch.Load(),
		Profile:    e.active.Current(),
		Account:    e.account,
		Positions:  append([]broker.Position(nil), e.positions...),
		OpenCount:  len(e.positions),
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st
}
