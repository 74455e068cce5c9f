package scaleout

import (
	"fmt"
	"sync"
	"time"

	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/decision"
	"riskgate/internal/logger"
	"riskgate/internal/signal"
)

// positionState is the per-ticket sub-state: one closed-fraction counter
// shared by the ladder and the trailing tracker. Never aliased across
// positions.
type positionState struct {
	openedAt       time.Time
	closedFraction float64
	levelsFired    int

	trailActive  bool
	trailExtreme float64
	trailStop    float64
}

// Rule names on the decisions the manager emits; Ack dispatches on them.
const (
	RuleLadder    = "scale_out_ladder"
	RuleTrailing  = "scale_out_trailing"
	RuleHardClose = "scale_out_hard_close"
)

// Manager runs the scale-out ladder, the trailing stop, and the hard-close
// check for every open position, keyed by ticket. Evaluate only reads the
// trackers; ladder levels and the trail stop are consumed in Ack once the
// caller actually applied the decision, so a failed or discarded decision is
// re-derived on the next cycle instead of burning state.
type Manager struct {
	cfg config.ScaleOutConfig
	reg *Registry

	mu     sync.Mutex
	states map[string]*positionState
}

func NewManager(cfg config.ScaleOutConfig, reg *Registry) *Manager {
	return &Manager{
		cfg:    cfg,
		reg:    reg,
		states: make(map[string]*positionState),
	}
}

// Evaluate reviews one position snapshot and returns at most one decision.
// State resets when the ticket is reused by a new position or the previous
// one fully closed.
func (m *Manager) Evaluate(pos broker.Position, ind signal.Indicators) *decision.Decision {
	if pos.Ticket == "" || pos.EntryPrice <= 0 {
		return nil
	}
	m.mu.Lock()
	st := m.stateLocked(pos)
	// The caller's snapshot is authoritative; the fraction only ever grows.
	if pos.ClosedFraction > st.closedFraction {
		st.closedFraction = pos.ClosedFraction
	}
	m.mu.Unlock()

	if d := m.hardClose(pos, ind); d != nil {
		return d
	}

	profitR, ok := pos.ProfitR()
	if !ok {
		// No stop distance means no R reference; ladder and trailing idle.
		return nil
	}

	if d := m.ladderStep(pos, st, profitR); d != nil {
		return d
	}
	return m.trail(pos, st, ind, profitR)
}

func (m *Manager) stateLocked(pos broker.Position) *positionState {
	st, ok := m.states[pos.Ticket]
	if ok && st.openedAt.Equal(pos.OpenedAt) && st.closedFraction < 1 {
		return st
	}
	// New position on this key, or the old one finished: fresh trackers.
	st = &positionState{openedAt: pos.OpenedAt}
	m.states[pos.Ticket] = st
	return st
}

// ladderStep proposes the next unfired level whose trigger R is reached.
// The level is only consumed by Ack; cumulative closed fraction stays
// monotonic and capped at 1.0.
func (m *Manager) ladderStep(pos broker.Position, st *positionState, profitR float64) *decision.Decision {
	ladder, ok := m.reg.Ladder(m.cfg.DefaultLadder)
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.levelsFired >= len(ladder.Levels) {
		return nil
	}
	lvl := ladder.Levels[st.levelsFired]
	if profitR < lvl.TriggerR {
		return nil
	}
	remaining := 1 - st.closedFraction
	if remaining <= fractionTolerance {
		return nil
	}
	fraction := lvl.CloseFraction
	if fraction > remaining {
		fraction = remaining
	}
	d := decision.Reduce(RuleLadder, fraction,
		fmt.Sprintf("ladder %s level %d hit at %.2fR, closing %.0f%%", ladder.ID, st.levelsFired+1, profitR, fraction*100))
	d.Ticket = pos.Ticket
	d.MoveToBreakeven = lvl.MoveToBreakeven
	logger.Infof("scale-out %s: %s", pos.Ticket, d.Reason)
	return &d
}

// trail activates once profit crosses the configured R threshold, then
// follows the favorable extreme with an ATR-distance stop that only
// tightens. Extreme tracking is a pure price observation and updates here;
// the stop the broker holds is only advanced in Ack.
func (m *Manager) trail(pos broker.Position, st *positionState, ind signal.Indicators, profitR float64) *decision.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !st.trailActive {
		if profitR < m.cfg.TrailingActivationR {
			return nil
		}
		st.trailActive = true
		st.trailExtreme = pos.CurrentPrice
	}
	if extremeImproved(pos.Direction, pos.CurrentPrice, st.trailExtreme) {
		st.trailExtreme = pos.CurrentPrice
	}
	dist := ind.ATROr(pos.CurrentPrice) * m.cfg.TrailATRMult
	candidate := trailingStopFor(pos.Direction, st.trailExtreme, dist)
	if !stopTightens(pos.Direction, candidate, currentStop(pos, st)) {
		return nil
	}
	d := decision.Retarget(RuleTrailing, candidate,
		fmt.Sprintf("trailing stop to %.8f (extreme %.8f, dist %.8f)", candidate, st.trailExtreme, dist))
	d.Ticket = pos.Ticket
	return &d
}

func currentStop(pos broker.Position, st *positionState) float64 {
	if st.trailStop > 0 {
		return st.trailStop
	}
	return pos.StopLoss
}

// hardClose applies the manager's own direction-aware RSI thresholds,
// independent from (and typically more aggressive than) the exit engine's.
func (m *Manager) hardClose(pos broker.Position, ind signal.Indicators) *decision.Decision {
	rsi := ind.RSIOr(signal.NeutralRSI)
	switch pos.Direction {
	case broker.Long:
		if rsi > m.cfg.HardCloseRSILong {
			d := decision.Close(RuleHardClose,
				fmt.Sprintf("RSI %.1f above hard-close threshold %.1f", rsi, m.cfg.HardCloseRSILong))
			d.Ticket = pos.Ticket
			return &d
		}
	case broker.Short:
		if rsi < m.cfg.HardCloseRSIShort {
			d := decision.Close(RuleHardClose,
				fmt.Sprintf("RSI %.1f below hard-close threshold %.1f", rsi, m.cfg.HardCloseRSIShort))
			d.Ticket = pos.Ticket
			return &d
		}
	}
	return nil
}

// Ack commits a previously returned decision after the caller applied it at
// the broker. Decisions from other rules fall through untouched.
func (m *Manager) Ack(pos broker.Position, d decision.Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[pos.Ticket]
	if !ok || !st.openedAt.Equal(pos.OpenedAt) {
		return
	}
	switch d.Rule {
	case RuleLadder:
		st.levelsFired++
		st.closedFraction += d.Fraction
		if st.closedFraction > 1 {
			st.closedFraction = 1
		}
	case RuleTrailing:
		st.trailStop = d.NewStop
	case RuleHardClose:
		delete(m.states, pos.Ticket)
	}
}

// Reset drops all trackers for a ticket. Called when a position fully closes.
func (m *Manager) Reset(ticket string) {
	m.mu.Lock()
	delete(m.states, ticket)
	m.mu.Unlock()
}

// ClosedFraction exposes the tracked fraction for a ticket, for status
// reporting.
func (m *Manager) ClosedFraction(ticket string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[ticket]; ok {
		return st.closedFraction
	}
	return 0
}
