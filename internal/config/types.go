package config

import "time"

// Config is the main configuration carrier for riskgate.
type Config struct {
	App       AppConfig              `toml:"app"`
	Broker    BrokerConfig           `toml:"broker"`
	Engine    EngineConfig           `toml:"engine"`
	Profiles  ProfilesConfig         `toml:"profiles"`
	Admission AdmissionConfig        `toml:"admission"`
	Sizing    SizingConfig           `toml:"sizing"`
	Exit      ExitConfig             `toml:"exit"`
	ScaleOut  ScaleOutConfig         `toml:"scale_out"`
	Styles    map[string]StyleConfig `toml:"styles"`
	History   HistoryConfig          `toml:"history"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type BrokerConfig struct {
	Exchange   string   `toml:"exchange"`
	APIKey     string   `toml:"api_key"`
	APISecret  string   `toml:"api_secret"`
	Testnet    bool     `toml:"testnet"`
	Symbols    []string `toml:"symbols"`
	KlineLimit int      `toml:"kline_limit"`
}

type EngineConfig struct {
	PollSeconds          int `toml:"poll_seconds"`
	SelectorMinutes      int `toml:"selector_minutes"`
	MaxParallelSymbols   int `toml:"max_parallel_symbols"`
	MaxParallelPositions int `toml:"max_parallel_positions"`
}

// ProfileConfig holds one named risk profile. All three catalog entries are
// immutable after validation.
type ProfileConfig struct {
	RiskPct         float64 `toml:"risk_pct"`
	MaxPositions    int     `toml:"max_positions"`
	StopATRMult     float64 `toml:"stop_atr_mult"`
	MinConfidence   float64 `toml:"min_confidence"`
	MaxDailyLossPct float64 `toml:"max_daily_loss_pct"`
	MaxDrawdownPct  float64 `toml:"max_drawdown_pct"`
	TimeoutMinutes  int     `toml:"timeout_minutes"`
}

type ProfilesConfig struct {
	Conservative ProfileConfig  `toml:"conservative"`
	Balanced     ProfileConfig  `toml:"balanced"`
	Aggressive   ProfileConfig  `toml:"aggressive"`
	Selector     SelectorConfig `toml:"selector"`
}

// SelectorConfig tunes the adaptive profile selector and its stability guard.
type SelectorConfig struct {
	LookbackHours      int     `toml:"lookback_hours"`
	MinTrades          int     `toml:"min_trades"`
	CooldownHours      int     `toml:"cooldown_hours"`
	MaxSwitchesPerDay  int     `toml:"max_switches_per_day"`
	WinRateFloor       float64 `toml:"win_rate_floor"`
	WinRateCeiling     float64 `toml:"win_rate_ceiling"`
	ProfitFactorFloor  float64 `toml:"profit_factor_floor"`
	ProfitFactorTarget float64 `toml:"profit_factor_target"`
	DrawdownCapR       float64 `toml:"drawdown_cap_r"`
	DrawdownCalmR      float64 `toml:"drawdown_calm_r"`
}

type AdmissionConfig struct {
	SpreadCapForexPct  float64 `toml:"spread_cap_forex_pct"`
	SpreadCapCryptoPct float64 `toml:"spread_cap_crypto_pct"`
	TradingHourStart   int     `toml:"trading_hour_start"`
	TradingHourEnd     int     `toml:"trading_hour_end"`
	HoursEnabled       bool    `toml:"hours_enabled"`
}

type SizingConfig struct {
	ConfidenceTier1     float64  `toml:"confidence_tier1"`
	ConfidenceTier1Mult float64  `toml:"confidence_tier1_mult"`
	ConfidenceTier2     float64  `toml:"confidence_tier2"`
	ConfidenceTier2Mult float64  `toml:"confidence_tier2_mult"`
	SmallAccountEquity  float64  `toml:"small_account_equity"`
	SmallAccountMult    float64  `toml:"small_account_mult"`
	MajorPairs          []string `toml:"major_pairs"`
	EquityCapDivisor    float64  `toml:"equity_cap_divisor"`
	HardVolumeCap       float64  `toml:"hard_volume_cap"`
	CongestionFloor     float64  `toml:"congestion_floor"`
	MinRiskCurrency     float64  `toml:"min_risk_currency"`
}

type ExitConfig struct {
	TargetR             float64 `toml:"target_r"`
	PartialR            float64 `toml:"partial_r"`
	PartialFraction     float64 `toml:"partial_fraction"`
	EmergencyStopR      float64 `toml:"emergency_stop_r"`
	RetracePct          float64 `toml:"retrace_pct"`
	RSIOverbought       float64 `toml:"rsi_overbought"`
	RSIOversold         float64 `toml:"rsi_oversold"`
	OppositeConfidence  float64 `toml:"opposite_confidence"`
	MinFavorableMovePct float64 `toml:"min_favorable_move_pct"`
	TrailATRMult        float64 `toml:"trail_atr_mult"`
}

type ScaleOutConfig struct {
	LaddersPath         string  `toml:"ladders_path"`
	DefaultLadder       string  `toml:"default_ladder"`
	TrailingActivationR float64 `toml:"trailing_activation_r"`
	TrailATRMult        float64 `toml:"trail_atr_mult"`
	HardCloseRSILong    float64 `toml:"hard_close_rsi_long"`
	HardCloseRSIShort   float64 `toml:"hard_close_rsi_short"`
}

// StyleConfig carries per-engine-style recommendations. The active risk
// profile can only dampen a style's risk, never amplify it.
type StyleConfig struct {
	RiskPct        float64 `toml:"risk_pct"`
	SpreadCapPct   float64 `toml:"spread_cap_pct"`
	ATRMult        float64 `toml:"atr_mult"`
	SkipVolumeFlex bool    `toml:"skip_volume_flex"`
}

type HistoryConfig struct {
	Path string `toml:"path"`
}

func (e EngineConfig) PollInterval() time.Duration {
	if e.PollSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(e.PollSeconds) * time.Second
}

func (e EngineConfig) SelectorInterval() time.Duration {
	if e.SelectorMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(e.SelectorMinutes) * time.Minute
}

func (s SelectorConfig) Cooldown() time.Duration {
	if s.CooldownHours <= 0 {
		return 3 * time.Hour
	}
	return time.Duration(s.CooldownHours) * time.Hour
}

func (p ProfileConfig) Timeout() time.Duration {
	if p.TimeoutMinutes <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutMinutes) * time.Minute
}
