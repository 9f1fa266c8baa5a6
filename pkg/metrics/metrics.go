// Package metrics provides Prometheus metrics for workers and the API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeNotReady  = "not_ready"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Retry reasons.
const (
	ReasonLock      = "lock"
	ReasonNotReady  = "not_ready"
	ReasonTransient = "transient"
)

var (
	// TasksTotal counts runner invocations by outcome.
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowline",
			Subsystem: "runner",
			Name:      "tasks_total",
			Help:      "Total number of task executions by outcome",
		},
		[]string{"outcome"}, // "succeeded", "failed", "not_ready", "skipped", "error"
	)

	// RetriesTotal counts resubmissions by reason.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowline",
			Subsystem: "runner",
			Name:      "retries_total",
			Help:      "Total number of task resubmissions by reason",
		},
		[]string{"reason"},
	)

	// LockContentionTotal counts failed workflow lock acquisitions.
	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowline",
			Subsystem: "runner",
			Name:      "lock_contention_total",
			Help:      "Total number of times a workflow lock was held by another worker",
		},
	)

	// NodeDuration tracks node invocation duration.
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowline",
			Subsystem: "runner",
			Name:      "node_duration_seconds",
			Help:      "Node invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow_type", "node"},
	)

	// QueueDepth tracks jobs waiting in a queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowline",
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Number of jobs waiting in the queue",
		},
		[]string{"queue"},
	)

	// WorkersBusy tracks worker goroutines currently executing a job.
	WorkersBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowline",
			Subsystem: "worker",
			Name:      "busy",
			Help:      "Number of workers currently executing a job",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowline",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowline",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
