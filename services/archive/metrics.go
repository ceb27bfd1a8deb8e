package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	archived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_events_archived_total",
		Help: "Growth events moved to the archive table.",
	})
	runFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_archive_failures_total",
		Help: "Archive runs aborted by a failed batch.",
	})
	exportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "growth_archive_export_failures_total",
		Help: "Archived batches that could not be exported.",
	})
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "growth_archive_run_seconds",
		Help:    "Duration of archive runs.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})
)
