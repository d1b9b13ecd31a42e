package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_http_requests_total",
			Help: "Total number of HTTP requests by matched route.",
		},
		[]string{"route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbchat_http_request_duration_seconds",
			Help:    "HTTP request latency by matched route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"route", "status"},
	)

	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_chat_requests_total",
			Help: "Total number of chat requests by resolved intent and outcome kind.",
		},
		[]string{"intent", "kind"},
	)
	chatProcessingMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_chat_processing_ms",
			Help:    "End-to-end chat request processing time in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	policyDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_policy_denials_total",
			Help: "Total number of statements denied by the security gate.",
		},
		[]string{"reason"},
	)
	schemaRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_schema_refresh_total",
			Help: "Total number of schema snapshot rebuilds by status.",
		},
		[]string{"status"},
	)
	schemaTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbchat_schema_tables",
			Help: "Number of tables in the most recently published schema snapshot.",
		},
	)
	auditRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_audit_records_total",
			Help: "Total number of audit records by status (archived, dropped, failed).",
		},
		[]string{"status"},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_query_rows_returned",
			Help:    "Rows returned by read statements.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		chatRequestsTotal,
		chatProcessingMs,
		policyDenialsTotal,
		schemaRefreshTotal,
		schemaTables,
		auditRecordsTotal,
		queryRowsReturned,
	)
}

func ObserveChatRequest(intent, kind string, elapsed time.Duration) {
	if intent == "" {
		intent = "none"
	}
	chatRequestsTotal.WithLabelValues(intent, kind).Inc()
	chatProcessingMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementPolicyDenial(reason string) {
	policyDenialsTotal.WithLabelValues(reason).Inc()
}

// ObserveSchemaRefresh records a rebuild attempt. A negative table count
// leaves the gauge untouched.
func ObserveSchemaRefresh(status string, tables int) {
	schemaRefreshTotal.WithLabelValues(status).Inc()
	if tables >= 0 {
		schemaTables.Set(float64(tables))
	}
}

func ObserveAuditRecords(status string, count int) {
	if count <= 0 {
		return
	}
	auditRecordsTotal.WithLabelValues(status).Add(float64(count))
}

func ObserveRowsReturned(rows int) {
	queryRowsReturned.Observe(float64(rows))
}
