package admission

import (
	"time"

	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/logger"
	"riskgate/internal/profile"
	"riskgate/internal/sizing"
)

// Proposal is one ephemeral trade candidate, consumed by a single Admit call.
type Proposal struct {
	Symbol     string
	Direction  broker.Direction
	Confidence float64
	ATR        float64
	StopHint   float64
	TakeHint   float64
	Style      string
}

// Input is the per-cycle snapshot the pipeline evaluates against. Meta is nil
// when the broker could not resolve instrument metadata.
type Input struct {
	Proposal      Proposal
	Account       broker.AccountSnapshot
	Quote         broker.PriceQuote
	Meta          *broker.SymbolMeta
	Profile       profile.Snapshot
	OpenPositions []broker.Position
	Connected     bool
	KillSwitch    bool
	MarketOpen    bool
	EngineRiskPct float64
	Now           time.Time
}

// Result is the pipeline's only output; placing the order is the caller's
// concern.
type Result struct {
	Accepted   bool
	Volume     float64
	StopPrice  float64
	TakePrice  float64
	FailedGate string
	Reasons    map[string]string
}

// state accumulates intermediate values across gates.
type state struct {
	in     Input
	entry  float64
	stop   float64
	take   float64
	volume float64
}

// rejection is a structured gate refusal, never an error.
type rejection struct {
	reason string
}

func reject(reason string) *rejection {
	return &rejection{reason: reason}
}

// Gate is one stage of the sequence. A nil return admits the proposal to the
// next gate.
type Gate struct {
	Name  string
	Check func(*state) *rejection
}

// Pipeline runs the ordered admission gates with short-circuit semantics:
// the first failing gate terminates evaluation and no later gate runs.
type Pipeline struct {
	gates  []Gate
	sizer  *sizing.Sizer
	cfg    config.AdmissionConfig
	styles map[string]config.StyleConfig
}

// New builds the standard 5-gate pipeline.
func New(cfg config.AdmissionConfig, styles map[string]config.StyleConfig, sizer *sizing.Sizer) *Pipeline {
	p := &Pipeline{sizer: sizer, cfg: cfg, styles: styles}
	p.gates = []Gate{
		{Name: GateMarketViability, Check: p.checkMarketViability},
		{Name: GateSymbolProfile, Check: p.checkSymbolProfile},
		{Name: GateExposureLimits, Check: p.checkExposureLimits},
		{Name: GateSizing, Check: p.checkSizing},
		{Name: GateAccountRisk, Check: p.checkAccountRisk},
	}
	return p
}

// NewWithGates builds a pipeline over explicit gates, used by tests to
// instrument ordering.
func NewWithGates(gates []Gate) *Pipeline {
	return &Pipeline{gates: gates}
}

// Admit evaluates the proposal. Pure over its input: identical inputs always
// fail at the same gate with the same reason.
func (p *Pipeline) Admit(in Input) Result {
	st := &state{in: in, entry: in.Quote.Mid()}
	res := Result{Reasons: make(map[string]string)}

	for _, g := range p.gates {
		if rej := g.Check(st); rej != nil {
			res.FailedGate = g.Name
			res.Reasons[g.Name] = rej.reason
			logger.Debugf("admission %s rejected at %s: %s", in.Proposal.Symbol, g.Name, rej.reason)
			return res
		}
	}

	res.Accepted = true
	res.Volume = st.volume
	res.StopPrice = st.stop
	res.TakePrice = st.take
	return res
}
