package sizing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgate/internal/broker"
	"riskgate/internal/config"
)

func testConfig() config.SizingConfig {
	return config.SizingConfig{
		ConfidenceTier1:     0.80,
		ConfidenceTier1Mult: 1.25,
		ConfidenceTier2:     0.90,
		ConfidenceTier2Mult: 1.5,
		SmallAccountEquity:  1000,
		SmallAccountMult:    1.2,
		MajorPairs:          []string{"EURUSD", "BTCUSDT"},
		EquityCapDivisor:    5000,
		HardVolumeCap:       10,
		CongestionFloor:     0.3,
		MinRiskCurrency:     10,
	}
}

func cryptoMeta() broker.SymbolMeta {
	return broker.SymbolMeta{
		Symbol:       "BTCUSDT",
		Class:        broker.AssetCrypto,
		MinVolume:    0.001,
		MaxVolume:    1000,
		VolumeStep:   0.001,
		ContractSize: 1,
	}
}

func baseRequest() Request {
	return Request{
		Meta:            cryptoMeta(),
		EntryPrice:      50000,
		StopPrice:       49000,
		Equity:          100000,
		EngineRiskPct:   1.0,
		ProfileRiskPct:  1.0,
		Confidence:      0.70,
		OpenPositions:   0,
		PositionCeiling: 8,
	}
}

func TestSizeBasicRiskFraction(t *testing.T) {
	s := New(testConfig())
	// 1% of 100k = 1000 risk over a 1000 price distance -> 1.0 units.
	volume, err := s.Size(baseRequest())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, volume, 1e-9)
}

func TestConfidenceTiers(t *testing.T) {
	s := New(testConfig())

	cases := []struct {
		name       string
		confidence float64
		want       float64
	}{
		{"below tier1", 0.70, 1.0},
		{"tier1", 0.80, 1.25},
		{"tier2", 0.95, 1.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			req.Confidence = tc.confidence
			// Profile risk lifted so the boost is not capped away.
			req.ProfileRiskPct = 5.0
			volume, err := s.Size(req)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, volume, 1e-9)
		})
	}
}

func TestProfileCapDampensBoost(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.Confidence = 0.95
	req.ProfileRiskPct = 1.0 // boosted engine risk 1.5% must be capped to 1.0%
	volume, err := s.Size(req)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, volume, 1e-9)
}

func TestSmallAccountBoostMajorsOnly(t *testing.T) {
	s := New(testConfig())

	req := baseRequest()
	req.Equity = 500
	req.ProfileRiskPct = 5.0
	req.EngineRiskPct = 5.0
	major, err := s.Size(req)
	require.NoError(t, err)

	req.Meta.Symbol = "DOGEUSDT"
	minor, err := s.Size(req)
	require.NoError(t, err)

	assert.Greater(t, major, minor)
	assert.InDelta(t, 1.2, major/minor, 1e-9)
}

func TestCongestionFactor(t *testing.T) {
	t.Run("no open positions", func(t *testing.T) {
		assert.Equal(t, 1.0, CongestionFactor(0, 8, 0.3))
	})
	t.Run("halfway to ceiling", func(t *testing.T) {
		assert.InDelta(t, 0.5, CongestionFactor(4, 8, 0.3), 1e-9)
	})
	t.Run("floor holds at the ceiling", func(t *testing.T) {
		assert.Equal(t, 0.3, CongestionFactor(8, 8, 0.3))
	})
	t.Run("floor holds past the ceiling", func(t *testing.T) {
		assert.Equal(t, 0.3, CongestionFactor(10, 12, 0.3))
		assert.Equal(t, 0.3, CongestionFactor(12, 12, 0.3))
	})
}

func TestCongestionAppliedToVolume(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.OpenPositions = 4
	req.PositionCeiling = 8
	volume, err := s.Size(req)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, volume, 1e-9)
}

func TestEquityCap(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.Equity = 1000000
	req.StopPrice = 49990 // huge volume before caps
	volume, err := s.Size(req)
	require.NoError(t, err)
	// equity/5000 = 200, but the hard cap of 10 wins.
	assert.InDelta(t, 10.0, volume, 1e-9)
}

func TestNoForcingBelowMinimum(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.Equity = 100
	req.ProfileRiskPct = 0.1
	req.EngineRiskPct = 0.1
	// 0.1% of 100 = 0.10 risk over 1000 -> 0.0000001 units, far below 0.001.
	_, err := s.Size(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVolumeBelowMinimum))
}

func TestSizeWithFloorLiftsRiskOnce(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.Equity = 100
	req.ProfileRiskPct = 0.1
	req.EngineRiskPct = 0.1
	req.StopPrice = 49000

	// The floor lifts the risk budget to 10 currency units: 10/1000 = 0.01.
	volume, err := s.SizeWithFloor(req)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, volume, 1e-9)
}

func TestSizeWithFloorStillRejectsWhenHopeless(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.Equity = 100
	req.ProfileRiskPct = 0.01
	req.EngineRiskPct = 0.01
	req.Meta.MinVolume = 5 // unreachable even at the floor
	_, err := s.SizeWithFloor(req)
	assert.True(t, errors.Is(err, ErrVolumeBelowMinimum))
}

func TestRoundToStepFloors(t *testing.T) {
	assert.InDelta(t, 0.003, RoundToStep(0.0039, 0.001), 1e-12)
	assert.InDelta(t, 0.004, RoundToStep(0.004, 0.001), 1e-12)
	assert.Equal(t, 1.23, RoundToStep(1.23, 0))
}

func TestZeroEquityRejected(t *testing.T) {
	s := New(testConfig())
	req := baseRequest()
	req.Equity = 0
	_, err := s.Size(req)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrVolumeBelowMinimum))
}
