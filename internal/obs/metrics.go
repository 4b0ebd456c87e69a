package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhub_authz_decisions_total",
			Help: "Authorization decisions by effect and reason.",
		},
		[]string{"effect", "reason"},
	)

	tokenOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhub_token_operations_total",
			Help: "Token lifecycle operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	onboardingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authhub_onboarding_executions_total",
			Help: "Onboarding saga executions by result.",
		},
		[]string{"result"},
	)

	refreshCacheRollbackFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authhub_refresh_cache_rollback_failures_total",
		Help: "Refresh token cache entries that could not be removed after a durable write failed.",
	})

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisionsTotal, tokenOperationsTotal, onboardingTotal,
			refreshCacheRollbackFailures,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDecision counts one authorization decision.
func ObserveDecision(effect, reason string) {
	authzDecisionsTotal.WithLabelValues(effect, reason).Inc()
}

// ObserveTokenOperation counts one login, refresh or logout outcome.
func ObserveTokenOperation(operation, result string) {
	tokenOperationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveOnboarding counts one onboarding execution outcome.
func ObserveOnboarding(result string) {
	onboardingTotal.WithLabelValues(result).Inc()
}

// IncRefreshCacheRollbackFailure counts a cache entry left behind after a failed durable write.
func IncRefreshCacheRollbackFailure() {
	refreshCacheRollbackFailures.Inc()
}

// Instrument records in-flight, count and latency per route.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := CanonicalPath(r.URL.Path)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

// CanonicalPath collapses identifier segments (ULIDs, UUIDs, numbers) to ":id"
// so unrouted paths do not explode label cardinality.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(seg string) bool {
	if seg == "" {
		return false
	}
	if _, err := strconv.ParseUint(seg, 10, 64); err == nil {
		return true
	}
	switch len(seg) {
	case 26:
		return strings.IndexFunc(seg, func(r rune) bool {
			return !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z')
		}) < 0
	case 36:
		return strings.Count(seg, "-") == 4
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
