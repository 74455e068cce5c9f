package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine's prometheus collectors. A single instance
// is shared by the admission pipeline, the exit engine and the HTTP server.
type Metrics struct {
	AdmissionsTotal  *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec
	ExitActionsTotal *prometheus.CounterVec
	ProfileSwitches  prometheus.Counter

	ActiveProfile  *prometheus.GaugeVec
	OpenPositions  prometheus.Gauge
	AccountEquity  prometheus.Gauge
	DailyPnL       prometheus.Gauge
	CycleSeconds   prometheus.Histogram
	LastCycleEpoch prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		AdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgate_admissions_total",
			Help: "Trade proposals accepted by the admission pipeline.",
		}, []string{"symbol"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgate_rejections_total",
			Help: "Trade proposals rejected, labeled by the failing gate.",
		}, []string{"gate"}),
		ExitActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskgate_exit_actions_total",
			Help: "Exit decisions applied, labeled by rule and action.",
		}, []string{"rule", "action"}),
		ProfileSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "riskgate_profile_switches_total",
			Help: "Applied risk profile switches.",
		}),
		ActiveProfile: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskgate_active_profile",
			Help: "1 for the currently active risk profile, 0 otherwise.",
		}, []string{"profile"}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskgate_open_positions",
			Help: "Open positions reported by the broker.",
		}),
		AccountEquity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskgate_account_equity",
			Help: "Account equity in the account currency.",
		}),
		DailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskgate_daily_pnl",
			Help: "Realized profit and loss since the UTC day start.",
		}),
		CycleSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskgate_cycle_duration_seconds",
			Help:    "Wall time of one full engine cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		LastCycleEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "riskgate_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed engine cycle.",
		}),
	}
}

// SetActiveProfile flips the per-profile gauge so exactly one series reads 1.
func (m *Metrics) SetActiveProfile(active string, all []string) {
	for _, name := range all {
		v := 0.0
		if name == active {
			v = 1.0
		}
		m.ActiveProfile.WithLabelValues(name).Set(v)
	}
}
