package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ClassificationsTotal counts classified queries by type, complexity and recommended tier
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_classifications_total",
			Help: "Total number of classified queries",
		},
		[]string{"type", "complexity", "tier"},
	)

	// BackendAttemptsTotal counts attempts per backend and result (success, failure, timeout, canceled)
	BackendAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_backend_attempts_total",
			Help: "Total number of backend attempts",
		},
		[]string{"tier", "provider", "model", "result"},
	)

	// BackendRetriesTotal counts same-backend retries inside one attempt
	BackendRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_backend_retries_total",
			Help: "Total number of retries on the same backend",
		},
		[]string{"provider", "model"},
	)

	// BackendSkippedTotal counts candidates skipped because they were degraded
	BackendSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_backend_skipped_total",
			Help: "Total number of degraded backends skipped",
		},
		[]string{"tier", "provider", "model"},
	)

	// BackendLatency tracks per-attempt latency
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_backend_latency_seconds",
			Help:    "Backend attempt latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 45, 90},
		},
		[]string{"provider", "model"},
	)

	// ChainExhaustedTotal counts runs where no backend of the tier succeeded
	ChainExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_chain_exhausted_total",
			Help: "Total number of exhausted tier chains",
		},
		[]string{"tier"},
	)

	// BackendFailureCount mirrors the tracker failure count
	BackendFailureCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmrouter_backend_failure_count",
			Help: "Current rolling failure count of a backend",
		},
		[]string{"provider", "model"},
	)

	// BackendDegraded is 1 while a backend is excluded by its cool-down
	BackendDegraded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmrouter_backend_degraded",
			Help: "Whether the backend is currently degraded (1) or not (0)",
		},
		[]string{"provider", "model"},
	)

	// EstimatedCostTotal accumulates estimated spend per tier
	EstimatedCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_estimated_cost_total",
			Help: "Accumulated estimated cost",
		},
		[]string{"tier", "provider", "model"},
	)

	// DecisionLogErrorsTotal counts decision records that could not be stored
	DecisionLogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmrouter_decision_log_errors_total",
			Help: "Total number of decision log write failures",
		},
	)
)
