package exitrules

import (
	"time"

	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/decision"
	"riskgate/internal/logger"
	"riskgate/internal/profile"
	"riskgate/internal/scaleout"
	"riskgate/internal/signal"
)

// Context carries everything a rule may inspect for one position review.
// Opposite is the latest signal for the position's symbol when it points
// against the position, nil otherwise.
type Context struct {
	Position   broker.Position
	Indicators signal.Indicators
	Opposite   *signal.Signal
	Profile    profile.Profile
	Now        time.Time
}

// Rule inspects one position and either returns a decision or passes.
type Rule interface {
	Name() string
	Evaluate(ctx *Context) *decision.Decision
}

// Engine walks its rules in fixed priority order and returns the first
// decision produced. One decision per position per cycle; later rules see
// the position only on the next cycle.
type Engine struct {
	rules []Rule
}

// New builds the standard rule chain. The scale-out manager slots in
// between the stop-reference rules and the trailing maintenance fallback.
func New(cfg config.ExitConfig, mgr *scaleout.Manager) *Engine {
	return &Engine{rules: []Rule{
		rMultipleRule{cfg: cfg},
		retraceRule{cfg: cfg},
		rsiExtremeRule{cfg: cfg},
		oppositeSignalRule{cfg: cfg},
		timeToLiveRule{cfg: cfg},
		scaleOutRule{mgr: mgr},
		trailingRule{cfg: cfg},
	}}
}

// NewWithRules wires an explicit chain, used by tests to instrument
// ordering.
func NewWithRules(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// acknowledger is implemented by rules that defer state commits until the
// caller actually applied the decision at the broker.
type acknowledger interface {
	Acknowledge(pos broker.Position, d decision.Decision)
}

// Acknowledge reports a successfully applied decision back to the rules, so
// stateful ones can consume ladder levels or advance their stop tracking.
func (e *Engine) Acknowledge(pos broker.Position, d decision.Decision) {
	if e == nil {
		return
	}
	for _, r := range e.rules {
		if a, ok := r.(acknowledger); ok {
			a.Acknowledge(pos, d)
		}
	}
}

// Review evaluates the chain for one position.
func (e *Engine) Review(ctx *Context) *decision.Decision {
	for _, r := range e.rules {
		d := r.Evaluate(ctx)
		if d == nil {
			continue
		}
		if d.Ticket == "" {
			d.Ticket = ctx.Position.Ticket
		}
		if d.Rule == "" {
			d.Rule = r.Name()
		}
		logger.Infof("exit %s: rule %s -> %s (%s)", ctx.Position.Ticket, d.Rule, d.Action, d.Reason)
		return d
	}
	return nil
}
