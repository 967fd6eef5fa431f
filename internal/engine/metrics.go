package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"agentcore/internal/model"
)

var terminalStatuses = []string{
	model.StatusSuccess,
	model.StatusFailed,
	model.StatusTimedOut,
	model.StatusCancelled,
}

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_runs_total",
			Help: "Total number of workflow runs by terminal status.",
		},
		[]string{"status"},
	)

	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_steps_total",
			Help: "Total number of workflow steps by terminal status.",
		},
		[]string{"status"},
	)

	stepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_step_duration_seconds",
			Help:    "Wall-clock duration of a step from first dispatch to terminal status, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_step_retries_total",
			Help: "Total number of step attempt retries.",
		},
	)

	activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_active_runs",
			Help: "Number of workflow runs currently in flight.",
		},
	)
)

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(stepDuration)
	prometheus.MustRegister(retriesTotal)
	prometheus.MustRegister(activeRuns)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup, rather than only after first observation.
	for _, status := range terminalStatuses {
		runsTotal.WithLabelValues(status)
		stepsTotal.WithLabelValues(status)
	}
}
