package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsAdmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kioskd_jobs_admitted_total",
			Help: "Total number of submissions admitted to the queue",
		},
	)

	JobsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskd_jobs_rejected_total",
			Help: "Total number of submissions rejected at admission",
		},
		[]string{"reason"}, // duplicate, no_device
	)

	JobsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kioskd_jobs_dispatched_total",
			Help: "Total number of jobs handed to the vendor submission client",
		},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskd_jobs_completed_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"outcome"}, // completed, failed
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kioskd_job_retries_total",
			Help: "Total number of jobs returned to the queue after a failed attempt",
		},
	)

	JobsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kioskd_jobs_cancelled_total",
			Help: "Total number of waiting jobs cancelled by their submitter",
		},
	)

	BridgeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kioskd_bridge_events_total",
			Help: "Total number of vendor realtime events handled by the status bridge",
		},
		[]string{"kind", "result"}, // kind: order_status|device_health; result: published|dropped
	)

	// Gauges
	QueueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioskd_queue_waiting",
			Help: "Current number of jobs waiting for dispatch",
		},
	)

	QueueProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioskd_queue_processing",
			Help: "Current number of jobs with an in-flight vendor submission",
		},
	)

	CorrelationEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kioskd_correlation_entries",
			Help: "Current number of job/vendor-order correlation entries",
		},
	)

	// Histogram for vendor submission duration
	SubmitDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kioskd_submit_duration_seconds",
			Help:    "Vendor submission call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
	)
)
