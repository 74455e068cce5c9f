package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":8086"
	}
	if c.Broker.KlineLimit <= 0 {
		c.Broker.KlineLimit = 240
	}
	if c.Engine.PollSeconds <= 0 {
		c.Engine.PollSeconds = 30
	}
	if c.Engine.SelectorMinutes <= 0 {
		c.Engine.SelectorMinutes = 60
	}
	if c.Engine.MaxParallelSymbols <= 0 {
		c.Engine.MaxParallelSymbols = 4
	}
	if c.Engine.MaxParallelPositions <= 0 {
		c.Engine.MaxParallelPositions = 4
	}

	c.Profiles.Conservative.applyDefaults(ProfileConfig{
		RiskPct:         0.5,
		MaxPositions:    3,
		StopATRMult:     1.5,
		MinConfidence:   0.75,
		MaxDailyLossPct: 2.0,
		MaxDrawdownPct:  5.0,
		TimeoutMinutes:  240,
	})
	c.Profiles.Balanced.applyDefaults(ProfileConfig{
		RiskPct:         1.0,
		MaxPositions:    5,
		StopATRMult:     2.0,
		MinConfidence:   0.65,
		MaxDailyLossPct: 3.0,
		MaxDrawdownPct:  8.0,
		TimeoutMinutes:  360,
	})
	c.Profiles.Aggressive.applyDefaults(ProfileConfig{
		RiskPct:         2.0,
		MaxPositions:    8,
		StopATRMult:     2.5,
		MinConfidence:   0.55,
		MaxDailyLossPct: 5.0,
		MaxDrawdownPct:  12.0,
		TimeoutMinutes:  480,
	})

	sel := &c.Profiles.Selector
	if sel.LookbackHours <= 0 {
		sel.LookbackHours = 48
	}
	if sel.MinTrades <= 0 {
		sel.MinTrades = 5
	}
	if sel.CooldownHours <= 0 {
		sel.CooldownHours = 3
	}
	if sel.MaxSwitchesPerDay <= 0 {
		sel.MaxSwitchesPerDay = 2
	}
	if sel.WinRateFloor <= 0 {
		sel.WinRateFloor = 0.40
	}
	if sel.WinRateCeiling <= 0 {
		sel.WinRateCeiling = 0.55
	}
	if sel.ProfitFactorFloor <= 0 {
		sel.ProfitFactorFloor = 1.1
	}
	if sel.ProfitFactorTarget <= 0 {
		sel.ProfitFactorTarget = 1.4
	}
	if sel.DrawdownCapR <= 0 {
		sel.DrawdownCapR = 2.0
	}
	if sel.DrawdownCalmR <= 0 {
		sel.DrawdownCalmR = 1.0
	}

	if c.Admission.SpreadCapForexPct <= 0 {
		c.Admission.SpreadCapForexPct = 0.0003
	}
	if c.Admission.SpreadCapCryptoPct <= 0 {
		c.Admission.SpreadCapCryptoPct = 0.0015
	}

	s := &c.Sizing
	if s.ConfidenceTier1 <= 0 {
		s.ConfidenceTier1 = 0.80
	}
	if s.ConfidenceTier1Mult <= 0 {
		s.ConfidenceTier1Mult = 1.25
	}
	if s.ConfidenceTier2 <= 0 {
		s.ConfidenceTier2 = 0.90
	}
	if s.ConfidenceTier2Mult <= 0 {
		s.ConfidenceTier2Mult = 1.5
	}
	if s.SmallAccountEquity <= 0 {
		s.SmallAccountEquity = 1000
	}
	if s.SmallAccountMult <= 0 {
		s.SmallAccountMult = 1.2
	}
	if len(s.MajorPairs) == 0 {
		s.MajorPairs = []string{"EURUSD", "GBPUSD", "USDJPY", "BTCUSDT", "ETHUSDT"}
	}
	if s.EquityCapDivisor <= 0 {
		s.EquityCapDivisor = 5000
	}
	if s.HardVolumeCap <= 0 {
		s.HardVolumeCap = 10
	}
	if s.CongestionFloor <= 0 {
		s.CongestionFloor = 0.3
	}
	if s.MinRiskCurrency <= 0 {
		s.MinRiskCurrency = 10
	}

	e := &c.Exit
	if e.TargetR == 0 {
		e.TargetR = 1.5
	}
	if e.PartialR == 0 {
		e.PartialR = 1.0
	}
	if e.PartialFraction == 0 {
		e.PartialFraction = 0.5
	}
	if e.EmergencyStopR == 0 {
		e.EmergencyStopR = -1.0
	}
	if e.RetracePct == 0 {
		e.RetracePct = 0.35
	}
	if e.RSIOverbought == 0 {
		e.RSIOverbought = 80
	}
	if e.RSIOversold == 0 {
		e.RSIOversold = 20
	}
	if e.OppositeConfidence == 0 {
		e.OppositeConfidence = 0.70
	}
	if e.MinFavorableMovePct == 0 {
		e.MinFavorableMovePct = 0.0005
	}
	if e.TrailATRMult == 0 {
		e.TrailATRMult = 2.0
	}

	so := &c.ScaleOut
	if so.LaddersPath == "" {
		so.LaddersPath = "configs/ladders.yaml"
	}
	if so.DefaultLadder == "" {
		so.DefaultLadder = "default"
	}
	if so.TrailingActivationR == 0 {
		so.TrailingActivationR = 1.0
	}
	if so.TrailATRMult == 0 {
		so.TrailATRMult = 1.5
	}
	if so.HardCloseRSILong == 0 {
		so.HardCloseRSILong = 85
	}
	if so.HardCloseRSIShort == 0 {
		so.HardCloseRSIShort = 15
	}

	if c.History.Path == "" {
		c.History.Path = "data/riskgate.db"
	}
}

func (p *ProfileConfig) applyDefaults(d ProfileConfig) {
	if p.RiskPct <= 0 {
		p.RiskPct = d.RiskPct
	}
	if p.MaxPositions <= 0 {
		p.MaxPositions = d.MaxPositions
	}
	if p.StopATRMult <= 0 {
		p.StopATRMult = d.StopATRMult
	}
	if p.MinConfidence <= 0 {
		p.MinConfidence = d.MinConfidence
	}
	if p.MaxDailyLossPct <= 0 {
		p.MaxDailyLossPct = d.MaxDailyLossPct
	}
	if p.MaxDrawdownPct <= 0 {
		p.MaxDrawdownPct = d.MaxDrawdownPct
	}
	if p.TimeoutMinutes <= 0 {
		p.TimeoutMinutes = d.TimeoutMinutes
	}
}
