package growth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	received = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_events_received_total",
		Help: "Growth events accepted and published.",
	})
	finalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growth_events_finalized_total",
		Help: "Growth events moved to a terminal status.",
	}, []string{"status"})
	reconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_events_reconciled_total",
		Help: "Stale pending events finalized by reconciliation.",
	})
	processing = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "growth_event_processing_seconds",
		Help:    "Time spent processing one bus message.",
		Buckets: prometheus.DefBuckets,
	})
)
