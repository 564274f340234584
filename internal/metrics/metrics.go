// Package metrics defines Prometheus metrics for rhesis.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rhesis_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_errors_total",
			Help: "Total errors by type",
		},
		[]string{"type"},
	)

	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_auth_failures_total",
			Help: "Rejected authentication attempts by reason",
		},
		[]string{"reason"},
	)

	TenantConfigFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_tenant_config_failures_total",
			Help: "Failures applying tenant settings to a database session, by scope",
		},
		[]string{"scope"},
	)

	BypassGrants = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rhesis_rls_bypass_grants_total",
			Help: "Row-level security bypass capabilities granted to superusers",
		},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_tasks_total",
			Help: "Task attempts by task name and outcome",
		},
		[]string{"task", "outcome"},
	)

	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rhesis_task_duration_seconds",
			Help:    "Task attempt duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	TaskRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_task_retries_total",
			Help: "Task retries scheduled",
		},
		[]string{"task"},
	)

	JoinExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rhesis_task_join_exhausted_total",
			Help: "Groups whose join gave up waiting for members",
		},
	)

	StuckGroups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rhesis_task_stuck_groups_total",
			Help: "Groups force-finalized by the stuck group sweeper",
		},
	)

	TaskQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rhesis_task_queue_depth",
			Help: "Tasks waiting to be claimed, sampled by the worker",
		},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rhesis_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhesis_rate_limited_total",
			Help: "Requests rejected by a rate limiter, by scope (ip or org)",
		},
		[]string{"scope"},
	)

	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rhesis_audit_dropped_total",
			Help: "Audit entries dropped because the audit queue was full",
		},
	)

	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rhesis_websocket_connections",
			Help: "Active WebSocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestDuration, RequestsTotal, RequestsInFlight, RateLimited, ErrorsTotal, AuthFailures,
		TenantConfigFailures, BypassGrants,
		TasksTotal, TaskDuration, TaskRetries, JoinExhausted, StuckGroups, TaskQueueDepth,
		AuditDropped, WSConnections,
	)
}
