package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Intervention results.
const (
	ResultApplied  = "applied"
	ResultDegraded = "degraded"
	ResultFailed   = "failed"
	ResultSkipped  = "skipped"
)

type metrics struct {
	sweeps        prometheus.Counter
	interventions *prometheus.CounterVec
	atRisk        prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *metrics
)

// metricsFor registers on the default registerer once per process, so any
// number of monitors can share it. Other registerers get fresh collectors.
func metricsFor(reg prometheus.Registerer) *metrics {
	if reg != prometheus.DefaultRegisterer {
		return newMetrics(reg)
	}
	defaultOnce.Do(func() { defaultMetrics = newMetrics(reg) })
	return defaultMetrics
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Name: "coachd_monitor_sweeps_total",
			Help: "Completed intervention monitor sweeps.",
		}),
		interventions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coachd_monitor_interventions_total",
			Help: "Interventions attempted by the monitor, by result.",
		}, []string{"result"}),
		atRisk: f.NewGauge(prometheus.GaugeOpts{
			Name: "coachd_monitor_at_risk_resolutions",
			Help: "At-risk resolutions found by the last sweep.",
		}),
	}
}
