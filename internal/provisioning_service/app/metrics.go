package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "tasks_processed_total",
			Help:      "Total provisioning tasks processed.",
		},
		[]string{"action", "status"}, // status: "completed", "retried", "failed"
	)

	taskProcessingDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provisioning",
			Name:      "task_processing_duration_seconds",
			Help:      "Duration of provisioning task processing.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	providerRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "provisioning",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of calls to the telephony provider.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	queueDepthGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "provisioning",
			Name:      "queue_depth",
			Help:      "Number of tasks per queue status.",
		},
		[]string{"status"},
	)

	tasksSweptCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "provisioning",
			Name:      "tasks_swept_total",
			Help:      "Total terminal tasks removed by the retention sweep.",
		},
	)
)
