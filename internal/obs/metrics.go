package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

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

	// FunctionResults counts gateway function outcomes by envelope code ("ok" on success).
	FunctionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_function_results_total",
			Help: "Gateway function results by function and code.",
		},
		[]string{"function", "code"},
	)

	// SideEffectFailures counts best-effort side effects that failed after the primary mutation.
	SideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_side_effect_failures_total",
			Help: "Failed best-effort side effects by effect name.",
		},
		[]string{"effect"},
	)

	// ReconcileOrders counts reconciliation outcomes per order.
	ReconcileOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_orders_total",
			Help: "Orders examined by the reconciliation sweep by outcome.",
		},
		[]string{"outcome"},
	)

	ReconcileExpiredHolds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_expired_holds_total",
		Help: "Ticket holds moved to expired by the reconciliation sweep.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			FunctionResults, SideEffectFailures, ReconcileOrders, ReconcileExpiredHolds,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath bounds label cardinality: known routes pass through,
// everything else under /functions/v1/ collapses to a placeholder.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	const fnPrefix = "/functions/v1/"
	if strings.HasPrefix(p, fnPrefix) {
		name := strings.TrimPrefix(p, fnPrefix)
		if name == "" || strings.Contains(name, "/") || len(name) > 40 {
			return fnPrefix + ":unknown"
		}
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
