package sizing

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"riskgate/internal/broker"
	"riskgate/internal/config"
	"riskgate/internal/logger"
	"riskgate/internal/profile"
)

// ErrVolumeBelowMinimum is the "no consolation trades" rejection: when the
// risk budget rounds below the broker minimum the trade is refused outright.
// Forcing the minimum would silently change the trade's risk/reward.
var ErrVolumeBelowMinimum = errors.New("computed volume below broker minimum")

const defaultForexContract = 100000

// Request carries everything one sizing decision needs. EngineRiskPct is the
// per-style recommendation in percent; ProfileRiskPct the active profile's.
type Request struct {
	Meta            broker.SymbolMeta
	EntryPrice      float64
	StopPrice       float64
	Equity          float64
	EngineRiskPct   float64
	ProfileRiskPct  float64
	Confidence      float64
	OpenPositions   int
	PositionCeiling int
}

// Sizer converts a risk budget into a broker-legal order volume.
type Sizer struct {
	cfg config.SizingConfig
}

func New(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Size computes the order volume for a proposal, or ErrVolumeBelowMinimum.
func (s *Sizer) Size(req Request) (float64, error) {
	riskAmount, err := s.riskAmount(req)
	if err != nil {
		return 0, err
	}
	return s.sizeFromRiskAmount(req, riskAmount)
}

// SizeWithFloor is the single re-derivation attempt the admission pipeline
// makes after a below-minimum rejection: the risk budget is lifted to the
// configured currency floor before giving up definitively.
func (s *Sizer) SizeWithFloor(req Request) (float64, error) {
	riskAmount, err := s.riskAmount(req)
	if err != nil {
		return 0, err
	}
	if riskAmount < s.cfg.MinRiskCurrency {
		riskAmount = s.cfg.MinRiskCurrency
	}
	return s.sizeFromRiskAmount(req, riskAmount)
}

// riskAmount applies confidence and small-account boosts to the engine
// recommendation first, then takes the profile minimum. Boosts must never
// bypass the profile's defensive cap.
func (s *Sizer) riskAmount(req Request) (float64, error) {
	if req.Equity <= 0 {
		return 0, fmt.Errorf("equity must be positive, got %.2f", req.Equity)
	}
	boosted := req.EngineRiskPct * s.confidenceMult(req.Confidence) * s.smallAccountMult(req)
	riskPct := profile.EffectiveRiskPct(boosted, req.ProfileRiskPct)
	if riskPct <= 0 {
		return 0, fmt.Errorf("no positive risk percentage available")
	}
	return req.Equity * riskPct / 100, nil
}

func (s *Sizer) sizeFromRiskAmount(req Request, riskAmount float64) (float64, error) {
	priceRisk := math.Abs(req.EntryPrice - req.StopPrice)
	if priceRisk <= 0 {
		return 0, fmt.Errorf("entry and stop collapse to zero price risk")
	}

	volume := riskAmount / (priceRisk * ContractUnits(req.Meta))

	volume *= CongestionFactor(req.OpenPositions, req.PositionCeiling, s.cfg.CongestionFloor)

	if cap := req.Equity / s.cfg.EquityCapDivisor; volume > cap {
		volume = cap
	}
	if volume > s.cfg.HardVolumeCap {
		volume = s.cfg.HardVolumeCap
	}
	if req.Meta.MaxVolume > 0 && volume > req.Meta.MaxVolume {
		volume = req.Meta.MaxVolume
	}

	volume = RoundToStep(volume, req.Meta.VolumeStep)
	if volume < req.Meta.MinVolume || volume <= 0 {
		logger.Debugf("sizing %s: volume %.8f under broker minimum %.8f, rejecting",
			req.Meta.Symbol, volume, req.Meta.MinVolume)
		return 0, ErrVolumeBelowMinimum
	}
	return volume, nil
}

func (s *Sizer) confidenceMult(confidence float64) float64 {
	switch {
	case confidence >= s.cfg.ConfidenceTier2:
		return s.cfg.ConfidenceTier2Mult
	case confidence >= s.cfg.ConfidenceTier1:
		return s.cfg.ConfidenceTier1Mult
	default:
		return 1
	}
}

func (s *Sizer) smallAccountMult(req Request) float64 {
	if req.Equity >= s.cfg.SmallAccountEquity {
		return 1
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Meta.Symbol))
	for _, major := range s.cfg.MajorPairs {
		if strings.EqualFold(major, symbol) {
			return s.cfg.SmallAccountMult
		}
	}
	return 1
}

// ContractUnits is the per-volume-unit contract multiplier. Lot-based forex
// instruments default to the standard lot.
func ContractUnits(meta broker.SymbolMeta) float64 {
	contract := meta.ContractSize
	if !meta.ContractBased() {
		if contract <= 0 {
			contract = defaultForexContract
		}
	} else if contract <= 0 {
		contract = 1
	}
	return contract
}

// CongestionFactor linearly damps size toward the floor as open positions
// approach the ceiling.
func CongestionFactor(open, ceiling int, floor float64) float64 {
	if ceiling <= 0 || open <= 0 {
		return 1
	}
	f := 1 - float64(open)/float64(ceiling)
	if f < floor {
		return floor
	}
	return f
}

// RoundToStep floors a volume onto the broker's step grid.
func RoundToStep(volume, step float64) float64 {
	if step <= 0 {
		return volume
	}
	steps := math.Floor(volume/step + 1e-9)
	return steps * step
}
