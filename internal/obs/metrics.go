package obs

import (
	"net/http"
	"strconv"
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

	// EvidenceUploaded counts persisted evidence records by phase.
	EvidenceUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_evidence_uploaded_total",
			Help: "Evidence records persisted, by phase.",
		},
		[]string{"phase"},
	)

	// UploadFailures counts rejected or rolled back upload batches by reason.
	UploadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_upload_failures_total",
			Help: "Upload batches that failed, by error kind.",
		},
		[]string{"reason"},
	)

	// Transitions counts permit lifecycle transitions attempted.
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_transitions_total",
			Help: "Permit lifecycle transitions, by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	// NotifyEvents counts outbound workflow events by delivery result.
	NotifyEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptw_notify_events_total",
			Help: "Outbound workflow events, by delivery result.",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers all collectors in the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			EvidenceUploaded, UploadFailures, Transitions, NotifyEvents,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath returns the matched route pattern so ids do not explode label cardinality.
func CanonicalPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL.Path == "" {
		return "/"
	}
	return "unmatched"
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		path := CanonicalPath(r)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
