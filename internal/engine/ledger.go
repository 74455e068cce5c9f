package engine

import (
	"fmt"
	"sync"
	"time"

	"riskgate/internal/broker"
)

// ledgerEntry tracks the per-position state the broker cannot report: peak
// profit, the cumulative closed fraction of the initial volume, the currency
// risk committed at entry, and the stop in force. Binance keeps the
// protective stop as a separate order, so the position snapshot alone never
// carries it.
type ledgerEntry struct {
	Ticket         string
	Symbol         string
	Direction      broker.Direction
	OpenedAt       time.Time
	InitialVolume  float64
	RiskAmount     float64
	StopPrice      float64
	Profile        string
	PeakProfit     float64
	ClosedFraction float64
	LastRule       string
	LastSeen       broker.Position
}

// ledger is the engine's book of open positions. Entries are created when a
// ticket first appears, enriched every cycle, and popped when the ticket
// disappears from the broker's snapshot.
type ledger struct {
	mu      sync.Mutex
	entries map[string]*ledgerEntry

	// pending seeds risk context for positions we just opened but the broker
	// has not reported yet, keyed by symbol and direction.
	pending map[string]pendingOpen
}

type pendingOpen struct {
	RiskAmount float64
	StopPrice  float64
	Profile    string
	SeededAt   time.Time
}

const pendingTTL = 5 * time.Minute

func newLedger() *ledger {
	return &ledger{
		entries: make(map[string]*ledgerEntry),
		pending: make(map[string]pendingOpen),
	}
}

func pendingKey(symbol string, dir broker.Direction) string {
	return fmt.Sprintf("%s|%s", symbol, dir)
}

// seed records the risk context of an order we just placed so the first
// enrich of the resulting position carries it, the placed stop included.
func (l *ledger) seed(symbol string, dir broker.Direction, riskAmount, stopPrice float64, profileName string) {
	l.mu.Lock()
	l.pending[pendingKey(symbol, dir)] = pendingOpen{
		RiskAmount: riskAmount,
		StopPrice:  stopPrice,
		Profile:    profileName,
		SeededAt:   time.Now(),
	}
	l.mu.Unlock()
}

// enrich merges ledger state into the broker snapshot and updates the peak.
// A ticket reused by a new position (different OpenedAt) starts fresh.
func (l *ledger) enrich(pos broker.Position) broker.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[pos.Ticket]
	if !ok || !e.OpenedAt.Equal(pos.OpenedAt) {
		e = &ledgerEntry{
			Ticket:        pos.Ticket,
			Symbol:        pos.Symbol,
			Direction:     pos.Direction,
			OpenedAt:      pos.OpenedAt,
			InitialVolume: pos.Volume,
		}
		key := pendingKey(pos.Symbol, pos.Direction)
		if p, ok := l.pending[key]; ok {
			if time.Since(p.SeededAt) < pendingTTL {
				e.RiskAmount = p.RiskAmount
				e.StopPrice = p.StopPrice
				e.Profile = p.Profile
			}
			delete(l.pending, key)
		}
		l.entries[pos.Ticket] = e
	}

	if pos.UnrealizedProfit > e.PeakProfit {
		e.PeakProfit = pos.UnrealizedProfit
	}
	// The venue reports the stop when it carries one on the position itself;
	// otherwise the ledger's record of the stop order fills the gap.
	if pos.StopLoss > 0 {
		e.StopPrice = pos.StopLoss
	} else if e.StopPrice > 0 {
		pos.StopLoss = e.StopPrice
	}

	pos.InitialVolume = e.InitialVolume
	pos.PeakProfit = e.PeakProfit
	pos.ClosedFraction = e.ClosedFraction
	e.LastSeen = pos
	return pos
}

// recordReduction bumps the closed fraction after a partial close was sent.
func (l *ledger) recordReduction(ticket string, fraction float64, rule string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[ticket]
	if !ok {
		return
	}
	e.ClosedFraction += fraction
	if e.ClosedFraction > 1 {
		e.ClosedFraction = 1
	}
	e.LastRule = rule
}

// recordStop keeps the tracked stop in sync after an applied adjustment.
func (l *ledger) recordStop(ticket string, stop float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[ticket]; ok {
		e.StopPrice = stop
	}
}

func (l *ledger) recordRule(ticket, rule string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[ticket]; ok {
		e.LastRule = rule
	}
}

// popClosed removes and returns entries whose tickets are no longer open.
func (l *ledger) popClosed(openTickets map[string]bool) []*ledgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var closed []*ledgerEntry
	for ticket, e := range l.entries {
		if !openTickets[ticket] {
			closed = append(closed, e)
			delete(l.entries, ticket)
		}
	}
	return closed
}

func (l *ledger) get(ticket string) (ledgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[ticket]; ok {
		return *e, true
	}
	return ledgerEntry{}, false
}
