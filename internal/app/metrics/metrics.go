package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "switch_ledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switch_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "switch_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	vaultOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switch_ledger",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Total number of successful vault operations.",
		},
		[]string{"operation"},
	)

	vaultOperationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switch_ledger",
			Subsystem: "vault",
			Name:      "operation_failures_total",
			Help:      "Total number of rejected vault operations.",
		},
		[]string{"operation"},
	)

	valueMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switch_ledger",
			Subsystem: "vault",
			Name:      "value_moved_units_total",
			Help:      "Total value moved through the ledger in smallest units.",
		},
		[]string{"direction"}, // "in" or "out"
	)

	expiredVaults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "switch_ledger",
			Subsystem: "vault",
			Name:      "expired_vaults",
			Help:      "Number of vaults currently past their check-in interval.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		vaultOperations,
		vaultOperationFailures,
		valueMoved,
		expiredVaults,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOperation records a successful vault operation.
func RecordOperation(operation string) {
	vaultOperations.WithLabelValues(operation).Inc()
}

// RecordOperationFailure records a rejected vault operation.
func RecordOperationFailure(operation string) {
	vaultOperationFailures.WithLabelValues(operation).Inc()
}

// RecordValueMoved records value entering ("in") or leaving ("out") custody.
func RecordValueMoved(direction string, amount int64) {
	if amount <= 0 {
		return
	}
	valueMoved.WithLabelValues(direction).Add(float64(amount))
}

// SetExpiredVaults updates the expired vault gauge.
func SetExpiredVaults(n int) {
	expiredVaults.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "vaults" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/vaults"
	}
	if len(parts) == 2 {
		return "/vaults/:vault"
	}
	resource := parts[2]
	return "/vaults/:vault/" + resource
}
