package profile

import (
	"fmt"
	"strings"
	"time"

	"riskgate/internal/config"
)

// Name identifies one of the three catalog profiles.
type Name string

const (
	Conservative Name = "CONSERVATIVE"
	Balanced     Name = "BALANCED"
	Aggressive   Name = "AGGRESSIVE"
)

// Profile is an immutable bundle of risk parameters. The catalog holds
// exactly three, pre-validated at configuration load.
type Profile struct {
	Name            Name
	RiskPct         float64
	MaxPositions    int
	StopATRMult     float64
	MinConfidence   float64
	MaxDailyLossPct float64
	MaxDrawdownPct  float64
	Timeout         time.Duration
}

// Catalog is the fixed set of selectable profiles.
type Catalog struct {
	profiles map[Name]Profile
}

// NewCatalog builds the catalog from validated configuration.
func NewCatalog(cfg config.ProfilesConfig) *Catalog {
	return &Catalog{profiles: map[Name]Profile{
		Conservative: fromConfig(Conservative, cfg.Conservative),
		Balanced:     fromConfig(Balanced, cfg.Balanced),
		Aggressive:   fromConfig(Aggressive, cfg.Aggressive),
	}}
}

func fromConfig(name Name, c config.ProfileConfig) Profile {
	return Profile{
		Name:            name,
		RiskPct:         c.RiskPct,
		MaxPositions:    c.MaxPositions,
		StopATRMult:     c.StopATRMult,
		MinConfidence:   c.MinConfidence,
		MaxDailyLossPct: c.MaxDailyLossPct,
		MaxDrawdownPct:  c.MaxDrawdownPct,
		Timeout:         c.Timeout(),
	}
}

// Get returns the named profile.
func (c *Catalog) Get(name Name) (Profile, error) {
	p, ok := c.profiles[Name(strings.ToUpper(string(name)))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown risk profile: %s", name)
	}
	return p, nil
}

// MustGet panics on an unknown name; catalog names are compile-time constants
// so a miss is a programming error.
func (c *Catalog) MustGet(name Name) Profile {
	p, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

// EffectiveRiskPct composes an engine-style recommendation with the active
// profile. Boosts are already folded into engineRiskPct by the sizer; the
// profile can only dampen the result, never amplify it.
func EffectiveRiskPct(engineRiskPct, profileRiskPct float64) float64 {
	if engineRiskPct <= 0 {
		return profileRiskPct
	}
	if profileRiskPct <= 0 {
		return engineRiskPct
	}
	if engineRiskPct < profileRiskPct {
		return engineRiskPct
	}
	return profileRiskPct
}
