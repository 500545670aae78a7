package obs

import (
	"net/http"
	"strconv"
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

	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_login_attempts_total",
			Help: "Authentication attempts by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	tokenRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_token_rotations_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)

	replayDetectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_replay_detections_total",
		Help: "Refresh token replays that triggered session-wide revocation.",
	})
)

var initOnce sync.Once

// Init registers all metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttemptsTotal, tokenRotationsTotal, replayDetectionsTotal,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin records an authentication attempt outcome.
func ObserveLogin(method string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	loginAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveRotation records a refresh token rotation outcome.
func ObserveRotation(outcome string) {
	tokenRotationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReplay records a detected refresh token replay.
func ObserveReplay() {
	replayDetectionsTotal.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
