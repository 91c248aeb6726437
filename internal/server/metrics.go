// Prometheus collectors for the HTTP layer and the knowledge operations it
// fronts. Every collector is registered on the registry handed to New.

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed chat requests, partitioned by
	// mode ("plain" or "rag") and outcome ("ok", "timeout" or "error").
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each chat
	// request from first byte received to stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// vectorsGeneratedTotal counts vector records written by
	// POST /api/kb/{id}/vectors, including partial runs.
	vectorsGeneratedTotal prometheus.Counter

	// queryDurationSeconds records the latency of similarity queries.
	queryDurationSeconds prometheus.Histogram

	// graphOperationsTotal counts graph builds and deletions by outcome.
	graphOperationsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// authFailuresTotal counts 401 responses by reason ("missing" or "invalid").
	authFailuresTotal *prometheus.CounterVec

	// rateLimitedTotal counts 429 responses by route pattern.
	rateLimitedTotal *prometheus.CounterVec
}

// newServerMetrics registers every collector on reg, never on the global
// default registry.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbg",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests completed, partitioned by mode and outcome.",
		}, []string{"mode", "outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbg",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat requests from receipt to stream completion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"mode", "outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbg",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of chat SSE streams currently open.",
		}),

		vectorsGeneratedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kbg",
			Name:      "vectors_generated_total",
			Help:      "Total number of vector records generated.",
		}),

		queryDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbg",
			Name:      "query_duration_seconds",
			Help:      "Latency of similarity queries, including query embedding.",
			Buckets:   prometheus.DefBuckets,
		}),

		graphOperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbg",
			Name:      "graph_operations_total",
			Help:      "Total number of graph operations, partitioned by operation and result.",
		}, []string{"op", "result"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbg",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbg",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		authFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbg",
			Subsystem: "http",
			Name:      "auth_failures_total",
			Help:      "Requests rejected for a missing or invalid API key.",
		}, []string{"reason"}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbg",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}, []string{labelHandler}),
	}
}

// instrument records request count and latency for every request served by
// next. The handler label is the matched mux pattern, never the raw path,
// so kb and file ids do not explode label cardinality.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

// graphResult returns the result label for a graph operation.
func graphResult(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
