package config

import (
	"fmt"
	"strings"
)

// validate rejects configurations that would violate engine invariants.
// Failures here must prevent startup, never be clamped silently.
func validate(c *Config) error {
	if err := c.Profiles.validate(); err != nil {
		return err
	}
	if err := c.Admission.validate(); err != nil {
		return err
	}
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.ScaleOut.validate(); err != nil {
		return err
	}
	for name, style := range c.Styles {
		if err := style.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (p ProfilesConfig) validate() error {
	for _, entry := range []struct {
		name string
		prof ProfileConfig
	}{
		{"conservative", p.Conservative},
		{"balanced", p.Balanced},
		{"aggressive", p.Aggressive},
	} {
		if err := entry.prof.validate(entry.name); err != nil {
			return err
		}
	}
	sel := p.Selector
	if sel.WinRateFloor >= sel.WinRateCeiling {
		return fmt.Errorf("profiles.selector: win_rate_floor (%.2f) must be below win_rate_ceiling (%.2f)",
			sel.WinRateFloor, sel.WinRateCeiling)
	}
	if sel.ProfitFactorFloor >= sel.ProfitFactorTarget {
		return fmt.Errorf("profiles.selector: profit_factor_floor (%.2f) must be below profit_factor_target (%.2f)",
			sel.ProfitFactorFloor, sel.ProfitFactorTarget)
	}
	if sel.DrawdownCalmR >= sel.DrawdownCapR {
		return fmt.Errorf("profiles.selector: drawdown_calm_r (%.2f) must be below drawdown_cap_r (%.2f)",
			sel.DrawdownCalmR, sel.DrawdownCapR)
	}
	return nil
}

func (p ProfileConfig) validate(name string) error {
	if p.RiskPct <= 0 || p.RiskPct > 10 {
		return fmt.Errorf("profiles.%s: risk_pct must be in (0,10], got %.2f", name, p.RiskPct)
	}
	if p.MaxPositions <= 0 {
		return fmt.Errorf("profiles.%s: max_positions must be > 0", name)
	}
	if p.StopATRMult <= 0 {
		return fmt.Errorf("profiles.%s: stop_atr_mult must be > 0", name)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("profiles.%s: min_confidence must be in [0,1], got %.2f", name, p.MinConfidence)
	}
	if p.MaxDailyLossPct <= 0 {
		return fmt.Errorf("profiles.%s: max_daily_loss_pct must be > 0", name)
	}
	if p.MaxDrawdownPct <= 0 {
		return fmt.Errorf("profiles.%s: max_drawdown_pct must be > 0", name)
	}
	return nil
}

func (a AdmissionConfig) validate() error {
	if a.SpreadCapForexPct <= 0 || a.SpreadCapCryptoPct <= 0 {
		return fmt.Errorf("admission: spread caps must be > 0")
	}
	if a.SpreadCapForexPct > a.SpreadCapCryptoPct {
		return fmt.Errorf("admission: forex spread cap (%.4f%%) should be tighter than crypto (%.4f%%)",
			a.SpreadCapForexPct*100, a.SpreadCapCryptoPct*100)
	}
	if a.HoursEnabled {
		if a.TradingHourStart < 0 || a.TradingHourStart > 23 || a.TradingHourEnd < 0 || a.TradingHourEnd > 23 {
			return fmt.Errorf("admission: trading hours must be in [0,23]")
		}
	}
	return nil
}

func (s SizingConfig) validate() error {
	if s.ConfidenceTier1 >= s.ConfidenceTier2 {
		return fmt.Errorf("sizing: confidence_tier1 (%.2f) must be below confidence_tier2 (%.2f)",
			s.ConfidenceTier1, s.ConfidenceTier2)
	}
	if s.ConfidenceTier1Mult < 1 || s.ConfidenceTier2Mult < 1 {
		return fmt.Errorf("sizing: confidence tier multipliers must be >= 1")
	}
	if s.CongestionFloor <= 0 || s.CongestionFloor >= 1 {
		return fmt.Errorf("sizing: congestion_floor must be in (0,1), got %.2f", s.CongestionFloor)
	}
	if s.CongestionFloor < 0.3 {
		return fmt.Errorf("sizing: congestion_floor below 0.3 defeats the damping floor, got %.2f", s.CongestionFloor)
	}
	if s.EquityCapDivisor <= 0 {
		return fmt.Errorf("sizing: equity_cap_divisor must be > 0")
	}
	if s.HardVolumeCap <= 0 {
		return fmt.Errorf("sizing: hard_volume_cap must be > 0")
	}
	return nil
}

func (e ExitConfig) validate() error {
	if e.PartialR >= e.TargetR {
		return fmt.Errorf("exit: partial_r (%.2f) must be below target_r (%.2f)", e.PartialR, e.TargetR)
	}
	if e.EmergencyStopR >= 0 {
		return fmt.Errorf("exit: emergency_stop_r must be negative, got %.2f", e.EmergencyStopR)
	}
	if e.PartialFraction <= 0 || e.PartialFraction >= 1 {
		return fmt.Errorf("exit: partial_fraction must be in (0,1), got %.2f", e.PartialFraction)
	}
	if e.RetracePct <= 0 || e.RetracePct >= 1 {
		return fmt.Errorf("exit: retrace_pct must be in (0,1), got %.2f", e.RetracePct)
	}
	if e.RSIOversold >= e.RSIOverbought {
		return fmt.Errorf("exit: rsi_oversold (%.0f) must be below rsi_overbought (%.0f)",
			e.RSIOversold, e.RSIOverbought)
	}
	if e.OppositeConfidence <= 0 || e.OppositeConfidence > 1 {
		return fmt.Errorf("exit: opposite_confidence must be in (0,1], got %.2f", e.OppositeConfidence)
	}
	if e.TrailATRMult <= 0 {
		return fmt.Errorf("exit: trail_atr_mult must be > 0")
	}
	return nil
}

func (s ScaleOutConfig) validate() error {
	if strings.TrimSpace(s.LaddersPath) == "" {
		return fmt.Errorf("scale_out: ladders_path cannot be empty")
	}
	if s.TrailingActivationR <= 0 {
		return fmt.Errorf("scale_out: trailing_activation_r must be > 0")
	}
	if s.TrailATRMult <= 0 {
		return fmt.Errorf("scale_out: trail_atr_mult must be > 0")
	}
	if s.HardCloseRSIShort >= s.HardCloseRSILong {
		return fmt.Errorf("scale_out: hard_close_rsi_short (%.0f) must be below hard_close_rsi_long (%.0f)",
			s.HardCloseRSIShort, s.HardCloseRSILong)
	}
	return nil
}

func (s StyleConfig) validate(name string) error {
	if s.RiskPct <= 0 || s.RiskPct > 10 {
		return fmt.Errorf("styles.%s: risk_pct must be in (0,10], got %.2f", name, s.RiskPct)
	}
	if s.SpreadCapPct < 0 {
		return fmt.Errorf("styles.%s: spread_cap_pct cannot be negative", name)
	}
	return nil
}
