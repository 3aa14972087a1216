package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partner_queue",
		Name:      "enqueued_total",
		Help:      "Requests admitted to the queue, by partner and outcome.",
	}, []string{"partner", "outcome"})

	metricProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partner_queue",
		Name:      "processed_total",
		Help:      "Item processing outcomes, by partner and result.",
	}, []string{"partner", "result"})

	metricBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "partner_queue",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one tenant drain batch.",
		Buckets:   prometheus.DefBuckets,
	})

	metricStaleReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partner_queue",
		Name:      "stale_released_total",
		Help:      "Processing items requeued after exceeding the staleness window.",
	})
)
