// Package metrics exposes the engine's Prometheus surface: package-level
// promauto-registered vectors named after the component they instrument.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentineltrace_events_ingested_total",
			Help: "Total number of events accepted by the process-tree tracker",
		},
		[]string{"host", "kind"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentineltrace_events_dropped_total",
			Help: "Total number of raw records dropped by the source adapter (malformed or unsupported)",
		},
		[]string{"reason"},
	)

	MonitorIterationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentineltrace_monitor_iterations_total",
			Help: "Total number of background monitor loop iterations",
		},
		[]string{"session_id", "status"},
	)

	SnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentineltrace_snapshots_total",
		Help: "Total number of similarity snapshots persisted",
	})

	AlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentineltrace_alerts_total",
		Help: "Total number of threat-level elevation alerts persisted",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentineltrace_active_sessions",
		Help: "Whether a session is currently active (0 or 1)",
	})

	SimilarityComputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentineltrace_similarity_compute_duration_seconds",
			Help:    "Time spent scoring one signature in the monitor's fan-out",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"confidence"},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentineltrace_store_errors_total",
			Help: "Total number of store-layer errors, by operation",
		},
		[]string{"operation"},
	)

	SensorLinesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentineltrace_sensor_lines_read_total",
			Help: "Total number of lines read off the file sensor's tailed record log",
		},
		[]string{"path"},
	)

	SensorParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentineltrace_sensor_parse_errors_total",
			Help: "Total number of tailed lines that failed to decode into a raw record",
		},
		[]string{"path"},
	)
)
