package memory

import "github.com/prometheus/client_golang/prometheus"

var (
	entriesGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_memory_entries",
			Help: "Number of entries currently held in the memory store.",
		},
	)

	hitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_memory_hits_total",
			Help: "Total number of Get calls that returned a live entry.",
		},
	)

	missesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_memory_misses_total",
			Help: "Total number of Get calls that found no live entry.",
		},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_memory_evictions_total",
			Help: "Total number of entries evicted to satisfy the capacity bound.",
		},
	)

	expirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_memory_expirations_total",
			Help: "Total number of entries removed because their TTL elapsed.",
		},
	)
)

func init() {
	prometheus.MustRegister(entriesGauge)
	prometheus.MustRegister(hitsTotal)
	prometheus.MustRegister(missesTotal)
	prometheus.MustRegister(evictionsTotal)
	prometheus.MustRegister(expirationsTotal)
}
