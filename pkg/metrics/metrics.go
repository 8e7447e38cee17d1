// Package metrics declares the Prometheus collectors shared by the admission
// control and batch submission components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Overload detector metrics
var (
	OverloadEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "overload",
			Name:      "events_total",
			Help:      "Total number of requests rejected by the overload detector",
		},
		[]string{"resource"},
	)

	ResourceUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "overload",
			Name:      "resource_utilization",
			Help:      "Last sampled utilization fraction per monitored resource",
		},
		[]string{"resource"},
	)
)

// Circuit breaker metrics
var (
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	BreakerRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "breaker",
			Name:      "rejections_total",
			Help:      "Requests rejected while the circuit breaker was open",
		},
	)
)

// Admission gate metrics
var (
	AdmissionAvailablePermits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "admission",
			Name:      "available_permits",
			Help:      "Permits currently available in the admission gate",
		},
	)

	AdmissionWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "admission",
			Name:      "waiting_operations",
			Help:      "Operations currently blocked waiting for a permit",
		},
	)

	AdmissionWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ordergate",
			Subsystem: "admission",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting to acquire an admission permit",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
	)

	AdmissionTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "admission",
			Name:      "timeouts_total",
			Help:      "Acquire attempts that timed out before a permit became available",
		},
	)

	AdmissionDoubleReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "admission",
			Name:      "double_releases_total",
			Help:      "Permit releases ignored because the permit was already released",
		},
	)
)

// Batch pipeline metrics
var (
	BatchesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "batch",
			Name:      "submissions_total",
			Help:      "Batch submissions by terminal result",
		},
		[]string{"result"},
	)

	BatchOrders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "batch",
			Name:      "orders_total",
			Help:      "Per-order outcomes across all batches",
		},
		[]string{"outcome"},
	)

	BatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ordergate",
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "End to end latency of batch submissions",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
	)

	UpdateRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ordergate",
			Subsystem: "batch",
			Name:      "update_retries_total",
			Help:      "Write-phase retries after excluding a conflicting item",
		},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Number of open connections in the DB pool",
		},
	)

	DBInUseConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "db",
			Name:      "in_use_connections",
			Help:      "Number of in-use connections in the DB pool",
		},
	)

	DBIdleConns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ordergate",
			Subsystem: "db",
			Name:      "idle_connections",
			Help:      "Number of idle connections in the DB pool",
		},
	)
)
