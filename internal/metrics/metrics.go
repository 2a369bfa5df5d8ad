// Package metrics provides Prometheus metrics for the uigen server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uigen_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Workspace file-store metrics
	storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_store_operations_total",
			Help: "Total file-store operations",
		},
		[]string{"op", "status"},
	)

	workspaceFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uigen_workspace_files",
			Help: "Number of files across live workspaces",
		},
	)

	workspacesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uigen_workspaces_active",
			Help: "Number of live in-memory workspaces",
		},
	)

	// Build pipeline metrics
	buildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_builds_total",
			Help: "Total module-graph builds",
		},
		[]string{"status"},
	)

	buildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uigen_build_duration_seconds",
			Help:    "Module-graph build duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	buildsSuperseded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uigen_builds_superseded_total",
			Help: "Builds discarded because a newer file-store revision won",
		},
	)

	transformCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_transform_cache_total",
			Help: "Transform cache lookups",
		},
		[]string{"result"},
	)

	// Sandbox metrics
	sandboxExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_sandbox_executions_total",
			Help: "Total sandbox preview executions",
		},
		[]string{"status"},
	)

	sandboxExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "uigen_sandbox_execution_duration_seconds",
			Help:    "Sandbox preview execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	externalFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_external_fetches_total",
			Help: "External package fetches by the sandbox loader",
		},
		[]string{"status"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "uigen_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uigen_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "uigen_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Quota metrics
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "uigen_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)

	// Export storage metrics
	exportOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uigen_export_operations_total",
			Help: "Total snapshot export storage operations",
		},
		[]string{"backend", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordStoreOp records a file-store operation.
func RecordStoreOp(op string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	storeOpsTotal.WithLabelValues(op, status).Inc()
}

// SetWorkspaceFiles sets the current total file count across workspaces.
func SetWorkspaceFiles(count int64) {
	workspaceFiles.Set(float64(count))
}

// SetWorkspacesActive sets the number of live workspaces.
func SetWorkspacesActive(count int64) {
	workspacesActive.Set(float64(count))
}

// RecordBuild records a completed build.
func RecordBuild(status string, duration time.Duration) {
	buildsTotal.WithLabelValues(status).Inc()
	buildDuration.Observe(duration.Seconds())
}

// RecordBuildSuperseded records a build discarded in favour of a newer one.
func RecordBuildSuperseded() {
	buildsSuperseded.Inc()
}

// RecordTransformCache records a transform cache lookup.
func RecordTransformCache(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	transformCacheTotal.WithLabelValues(result).Inc()
}

// RecordSandboxExecution records a sandbox preview execution.
func RecordSandboxExecution(status string, duration time.Duration) {
	sandboxExecutionsTotal.WithLabelValues(status).Inc()
	sandboxExecutionDuration.Observe(duration.Seconds())
}

// RecordExternalFetch records an external package fetch attempt.
func RecordExternalFetch(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	externalFetchesTotal.WithLabelValues(status).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// RecordExportOp records a snapshot export storage operation.
func RecordExportOp(backend string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	exportOpsTotal.WithLabelValues(backend, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
