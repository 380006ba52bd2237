// Package telemetry holds the process-wide slog setup and the Prometheus
// metrics. Metrics register on the default registry at init and are scraped
// from the side listener cmd/server starts on telemetry.metrics.prometheus_port,
// never through the gin router.
//
// HTTP metrics label routes by template (c.FullPath(), with :resource
// replaced by the resource name) so record ids never become label values.
package telemetry

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/:resource/:id/:action),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// State transition metrics, recorded by the transition engine.
//
// TransitionsTotal is a CounterVec with labels {resource, action, result}.
// result is "ok", "invalid", "illegal", "precondition" or "error". A rising "illegal"
// rate usually means a client is driving a stale view of the record.
//
// Example PromQL queries:
//   - Radicaciones per hour:  sum(increase(transitions_total{action="radicar",result="ok"}[1h]))
//   - Refusals by resource:   sum by (resource) (rate(transitions_total{result!="ok"}[15m]))
var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "transitions_total",
		Help: "Total number of state transition attempts, by resource, action, and result.",
	},
	[]string{"resource", "action", "result"},
)

// Audit metrics.
//
// AuditEntriesTotal counts entries committed to audit_logs by action.
// AuditShipFailuresTotal counts entries a shipper could not forward; the rows
// themselves are safe in the database.
var (
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries written, by action.",
		},
		[]string{"action"},
	)

	AuditShipFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_ship_failures_total",
			Help: "Total number of committed audit entries that failed to ship.",
		},
	)
)

// File metrics.
//
// FileUploadsTotal is labelled by result ("ok", "rejected", "error").
// FileDownloadsTotal counts streamed downloads.
var (
	FileUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_uploads_total",
			Help: "Total number of file uploads, by result.",
		},
		[]string{"result"},
	)

	FileDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "file_downloads_total",
			Help: "Total number of file downloads served.",
		},
	)
)

// CacheRequestsTotal is a CounterVec with labels {backend, result}, result
// being "hit" or "miss".
//
// Example PromQL queries:
//   - Hit ratio:  sum(rate(cache_requests_total{result="hit"}[5m])) / sum(rate(cache_requests_total[5m]))
var CacheRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_requests_total",
		Help: "Total number of cache lookups, by backend and result.",
	},
	[]string{"backend", "result"},
)

// RateLimitedTotal counts requests rejected with 429, by limiter name.
var RateLimitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Total number of requests rejected by a rate limiter, by limiter.",
	},
	[]string{"limiter"},
)

// BackgroundPanicsTotal counts panics recovered in background tasks, by task.
var BackgroundPanicsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "background_panics_total",
		Help: "Total number of panics recovered in background tasks, by task.",
	},
	[]string{"task"},
)

// RegisterDBStats exports the sql.DB pool statistics (go_sql_* series,
// labelled db_name) on reg. Stats are read at scrape time.
func RegisterDBStats(reg prometheus.Registerer, db *sql.DB, name string) error {
	return reg.Register(collectors.NewDBStatsCollector(db, name))
}
