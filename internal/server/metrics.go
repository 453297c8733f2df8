package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	analyzeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalstudio",
			Subsystem: "server",
			Name:      "analyze_requests_total",
			Help:      "Analyze requests by outcome (computed, cached, shared, invalid, error)",
		},
		[]string{"outcome"},
	)

	releaseDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "evalstudio",
			Subsystem: "server",
			Name:      "release_decisions_total",
			Help:      "Computed release decisions by verdict",
		},
		[]string{"decision"},
	)
)
