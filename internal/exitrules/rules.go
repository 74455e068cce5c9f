package exitrules

import (
	"fmt"
	"time"

	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/decision"
	"riskgate/internal/scaleout"
	"riskgate/internal/signal"
)

// rMultipleRule closes on emergency stops and full targets, and takes one
// partial at the intermediate R level. The partial fires at most once per
// position, tracked through the cumulative closed fraction.
type rMultipleRule struct {
	cfg config.ExitConfig
}

func (rMultipleRule) Name() string { return "r_multiple" }

func (r rMultipleRule) Evaluate(ctx *Context) *decision.Decision {
	profitR, ok := ctx.Position.ProfitR()
	if !ok {
		return nil
	}
	switch {
	case profitR <= r.cfg.EmergencyStopR:
		d := decision.Close(r.Name(), fmt.Sprintf("emergency stop at %.2fR", profitR))
		return &d
	case profitR >= r.cfg.TargetR:
		d := decision.Close(r.Name(), fmt.Sprintf("target reached at %.2fR", profitR))
		return &d
	case profitR >= r.cfg.PartialR && ctx.Position.ClosedFraction+1e-6 < r.cfg.PartialFraction:
		fraction := r.cfg.PartialFraction
		if remaining := 1 - ctx.Position.ClosedFraction; fraction > remaining {
			fraction = remaining
		}
		d := decision.Reduce(r.Name(), fraction,
			fmt.Sprintf("partial take at %.2fR", profitR))
		return &d
	}
	return nil
}

// retraceRule closes when an open profit gives back too much of its peak.
// Only positive peaks count; a position that never showed profit is left to
// the stop rules.
type retraceRule struct {
	cfg config.ExitConfig
}

func (retraceRule) Name() string { return "profit_retrace" }

func (r retraceRule) Evaluate(ctx *Context) *decision.Decision {
	peak := ctx.Position.PeakProfit
	if peak <= 0 {
		return nil
	}
	cur := ctx.Position.UnrealizedProfit
	retrace := (peak - cur) / peak
	if retrace < r.cfg.RetracePct {
		return nil
	}
	d := decision.Close(r.Name(),
		fmt.Sprintf("gave back %.0f%% of peak profit %.2f", retrace*100, peak))
	return &d
}

// rsiExtremeRule closes on absolute momentum exhaustion regardless of the
// profit level.
type rsiExtremeRule struct {
	cfg config.ExitConfig
}

func (rsiExtremeRule) Name() string { return "rsi_extreme" }

func (r rsiExtremeRule) Evaluate(ctx *Context) *decision.Decision {
	rsi := ctx.Indicators.RSIOr(signal.NeutralRSI)
	switch ctx.Position.Direction {
	case broker.Long:
		if rsi >= r.cfg.RSIOverbought {
			d := decision.Close(r.Name(), fmt.Sprintf("RSI %.1f >= %.1f", rsi, r.cfg.RSIOverbought))
			return &d
		}
	case broker.Short:
		if rsi <= r.cfg.RSIOversold {
			d := decision.Close(r.Name(), fmt.Sprintf("RSI %.1f <= %.1f", rsi, r.cfg.RSIOversold))
			return &d
		}
	}
	return nil
}

// oppositeSignalRule reacts to a confident signal against the position:
// losing positions close outright, winners are only reduced.
type oppositeSignalRule struct {
	cfg config.ExitConfig
}

func (oppositeSignalRule) Name() string { return "opposite_signal" }

func (r oppositeSignalRule) Evaluate(ctx *Context) *decision.Decision {
	sig := ctx.Opposite
	if sig == nil || sig.Confidence < r.cfg.OppositeConfidence {
		return nil
	}
	if ctx.Position.UnrealizedProfit < 0 {
		d := decision.Close(r.Name(),
			fmt.Sprintf("opposite %s signal at %.2f confidence on a losing position", sig.Direction, sig.Confidence))
		return &d
	}
	remaining := 1 - ctx.Position.ClosedFraction
	if remaining <= 1e-6 {
		return nil
	}
	fraction := r.cfg.PartialFraction
	if fraction > remaining {
		fraction = remaining
	}
	d := decision.Reduce(r.Name(), fraction,
		fmt.Sprintf("opposite %s signal at %.2f confidence, reducing exposure", sig.Direction, sig.Confidence))
	return &d
}

// timeToLiveRule closes stale positions that never moved meaningfully in
// the trade's favor within the profile's holding window.
type timeToLiveRule struct {
	cfg config.ExitConfig
}

func (timeToLiveRule) Name() string { return "time_to_live" }

func (r timeToLiveRule) Evaluate(ctx *Context) *decision.Decision {
	if ctx.Profile.Timeout <= 0 {
		return nil
	}
	age := ctx.Now.Sub(ctx.Position.OpenedAt)
	if age < ctx.Profile.Timeout {
		return nil
	}
	movePct := 0.0
	if ctx.Position.EntryPrice > 0 {
		movePct = ctx.Position.FavorableMove() / ctx.Position.EntryPrice
	}
	if movePct >= r.cfg.MinFavorableMovePct {
		return nil
	}
	d := decision.Close(r.Name(),
		fmt.Sprintf("held %s with only %.4f%% favorable move", age.Truncate(time.Minute), movePct*100))
	return &d
}

// scaleOutRule delegates to the ladder and trailing manager.
type scaleOutRule struct {
	mgr *scaleout.Manager
}

func (scaleOutRule) Name() string { return "scale_out" }

func (r scaleOutRule) Evaluate(ctx *Context) *decision.Decision {
	if r.mgr == nil {
		return nil
	}
	return r.mgr.Evaluate(ctx.Position, ctx.Indicators)
}

func (r scaleOutRule) Acknowledge(pos broker.Position, d decision.Decision) {
	if r.mgr != nil {
		r.mgr.Ack(pos, d)
	}
}

// trailingRule is the maintenance fallback: once a position is in profit it
// keeps the broker stop within an ATR distance of price, tightening only.
type trailingRule struct {
	cfg config.ExitConfig
}

func (trailingRule) Name() string { return "trailing_maintenance" }

func (r trailingRule) Evaluate(ctx *Context) *decision.Decision {
	pos := ctx.Position
	if pos.FavorableMove() <= 0 {
		return nil
	}
	dist := ctx.Indicators.ATROr(pos.CurrentPrice) * r.cfg.TrailATRMult
	candidate := scaleout.TrailingStopFor(pos.Direction, pos.CurrentPrice, dist)
	if !scaleout.StopTightens(pos.Direction, candidate, pos.StopLoss) {
		return nil
	}
	d := decision.Retarget(r.Name(), candidate,
		fmt.Sprintf("tightening stop to %.8f", candidate))
	return &d
}
