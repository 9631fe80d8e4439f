package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	TasksEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
	)

	TaskRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_task_retries_total",
			Help: "Total number of task retry transitions",
		},
	)

	TaskProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_task_processing_duration_seconds",
			Help:    "Handler execution duration in seconds by task type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// Remediation metrics
	HealActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_heal_actions_total",
			Help: "Total number of executed heal actions by kind and result",
		},
		[]string{"kind", "result"},
	)

	CircuitBreakerOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_circuit_breaker_open",
			Help: "Whether the remediation circuit breaker is open (1 = open)",
		},
	)

	CircuitConsecutiveFailures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_circuit_consecutive_failures",
			Help: "Consecutive failed remediation executions",
		},
	)

	// Coordinator metrics
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_health_checks_total",
			Help: "Total number of health check runs by overall result",
		},
		[]string{"overall"},
	)

	HealthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_health_check_duration_seconds",
			Help:    "Health check aggregation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_agents_total",
			Help: "Number of registered agents by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksEnqueued)
	prometheus.MustRegister(TaskRetries)
	prometheus.MustRegister(TaskProcessingDuration)
	prometheus.MustRegister(HealActionsTotal)
	prometheus.MustRegister(CircuitBreakerOpen)
	prometheus.MustRegister(CircuitConsecutiveFailures)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(HealthCheckDuration)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
