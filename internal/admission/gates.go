package admission

import (
	"errors"
	"fmt"

	"riskgate/internal/broker"
	"riskgate/internal/sizing"
)

// Gate names double as keys in Result.Reasons.
const (
	GateMarketViability = "market_viability"
	GateSymbolProfile   = "symbol_profile"
	GateExposureLimits  = "exposure_limits"
	GateSizing          = "sizing"
	GateAccountRisk     = "account_risk"
)

// checkMarketViability is the cheapest gate and runs first: live spread
// against the asset-class cap, then configured trading hours.
func (p *Pipeline) checkMarketViability(st *state) *rejection {
	quote := st.in.Quote
	if quote.Bid <= 0 || quote.Ask <= 0 {
		return reject("no live quote")
	}
	cap := p.spreadCap(st)
	if spread := quote.SpreadPct(); spread > cap {
		return reject(fmt.Sprintf("spread %.4f%% above cap %.4f%%", spread*100, cap*100))
	}
	if !st.in.MarketOpen {
		return reject("market closed")
	}
	if p.cfg.HoursEnabled {
		hour := st.in.Now.UTC().Hour()
		if !hourWithin(hour, p.cfg.TradingHourStart, p.cfg.TradingHourEnd) {
			return reject(fmt.Sprintf("outside trading hours (%02d not in %02d-%02d UTC)",
				hour, p.cfg.TradingHourStart, p.cfg.TradingHourEnd))
		}
	}
	return nil
}

func (p *Pipeline) spreadCap(st *state) float64 {
	if style, ok := p.styles[st.in.Proposal.Style]; ok && style.SpreadCapPct > 0 {
		return style.SpreadCapPct
	}
	if st.in.Meta != nil && st.in.Meta.Class == broker.AssetForex {
		return p.cfg.SpreadCapForexPct
	}
	return p.cfg.SpreadCapCryptoPct
}

// checkSymbolProfile rejects when instrument metadata is unavailable or
// unusable for normalization.
func (p *Pipeline) checkSymbolProfile(st *state) *rejection {
	meta := st.in.Meta
	if meta == nil {
		return reject("symbol metadata unavailable")
	}
	if meta.VolumeStep <= 0 || meta.MinVolume <= 0 {
		return reject("symbol metadata incomplete: volume constraints missing")
	}
	return nil
}

// checkExposureLimits covers venue connectivity, the kill switch, the
// profile's position ceiling, and its confidence floor.
func (p *Pipeline) checkExposureLimits(st *state) *rejection {
	if !st.in.Connected {
		return reject("execution venue disconnected")
	}
	if st.in.KillSwitch {
		return reject("kill switch active")
	}
	prof := st.in.Profile.Profile
	if len(st.in.OpenPositions) >= prof.MaxPositions {
		return reject(fmt.Sprintf("position ceiling reached (%d/%d)", len(st.in.OpenPositions), prof.MaxPositions))
	}
	if st.in.Proposal.Confidence < prof.MinConfidence {
		return reject(fmt.Sprintf("confidence %.2f below profile minimum %.2f",
			st.in.Proposal.Confidence, prof.MinConfidence))
	}
	return nil
}

// checkSizing derives the stop, invokes the sizer, and retries once with the
// minimum-risk currency floor before rejecting definitively.
func (p *Pipeline) checkSizing(st *state) *rejection {
	in := st.in
	if in.Account.Equity <= 0 {
		return reject("no positive account equity")
	}
	if st.entry <= 0 {
		return reject("no usable entry price")
	}
	st.stop = in.Proposal.StopHint
	if st.stop <= 0 {
		st.stop = derivedStop(st.entry, in.Proposal.Direction, in.Proposal.ATR, in.Profile.Profile.StopATRMult)
	}
	if st.stop <= 0 {
		return reject("no stop price derivable (missing ATR)")
	}
	if in.Meta.MinStopDist > 0 && abs(st.entry-st.stop) < in.Meta.MinStopDist {
		return reject(fmt.Sprintf("stop distance below broker minimum %.8f", in.Meta.MinStopDist))
	}
	st.take = in.Proposal.TakeHint

	req := sizing.Request{
		Meta:            *in.Meta,
		EntryPrice:      st.entry,
		StopPrice:       st.stop,
		Equity:          in.Account.Equity,
		EngineRiskPct:   in.EngineRiskPct,
		ProfileRiskPct:  in.Profile.Profile.RiskPct,
		Confidence:      in.Proposal.Confidence,
		OpenPositions:   len(in.OpenPositions),
		PositionCeiling: in.Profile.Profile.MaxPositions,
	}
	volume, err := p.sizer.Size(req)
	if errors.Is(err, sizing.ErrVolumeBelowMinimum) {
		volume, err = p.sizer.SizeWithFloor(req)
	}
	if errors.Is(err, sizing.ErrVolumeBelowMinimum) {
		return reject("volume below broker minimum even at risk floor")
	}
	if err != nil {
		return reject("sizing failed: " + err.Error())
	}
	st.volume = volume
	return nil
}

// checkAccountRisk enforces the profile's drawdown and daily-loss breakers.
func (p *Pipeline) checkAccountRisk(st *state) *rejection {
	acct := st.in.Account
	prof := st.in.Profile.Profile
	if acct.PeakEquity > 0 && acct.Equity > 0 {
		drawdownPct := (acct.PeakEquity - acct.Equity) / acct.PeakEquity * 100
		if drawdownPct > prof.MaxDrawdownPct {
			return reject(fmt.Sprintf("drawdown %.2f%% above profile cap %.2f%%", drawdownPct, prof.MaxDrawdownPct))
		}
	}
	if acct.DailyPnL < 0 && acct.Equity > 0 {
		lossPct := -acct.DailyPnL / acct.Equity * 100
		if lossPct > prof.MaxDailyLossPct {
			return reject(fmt.Sprintf("daily loss %.2f%% above profile cap %.2f%%", lossPct, prof.MaxDailyLossPct))
		}
	}
	return nil
}

func derivedStop(entry float64, dir broker.Direction, atr, mult float64) float64 {
	if atr <= 0 || mult <= 0 || entry <= 0 {
		return 0
	}
	dist := atr * mult
	if dir == broker.Short {
		return entry + dist
	}
	return entry - dist
}

func hourWithin(hour, start, end int) bool {
	if start <= end {
		return hour >= start && hour <= end
	}
	// Window wraps midnight.
	return hour >= start || hour <= end
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
