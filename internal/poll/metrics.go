package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalstudio",
			Subsystem: "poll",
			Name:      "refresh_total",
			Help:      "Refresh results by kind (run, cases) and outcome (ok, stale, error, cancelled)",
		},
		[]string{"kind", "outcome"},
	)

	refreshSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "evalstudio",
			Subsystem: "poll",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching one refresh",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "evalstudio",
			Subsystem: "poll",
			Name:      "active_sessions",
			Help:      "Polling sessions currently running",
		},
	)
)
