// Package metrics exposes attempt lifecycle counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeScored    = "scored"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	AttemptsStarted   prometheus.Counter
	AttemptsResumed   prometheus.Counter
	EligibilityDenied *prometheus.CounterVec
	Submissions       *prometheus.CounterVec
	ScorePercentage   prometheus.Histogram
	ActiveSessions    prometheus.Gauge
	RequestCounter    *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	gatherer          prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg gets a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		AttemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempts_started_total",
			Help: "Attempts created.",
		}),
		AttemptsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempts_resumed_total",
			Help: "Start requests that returned an attempt already in progress.",
		}),
		EligibilityDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_eligibility_denied_total",
			Help: "Start requests refused, by reason.",
		}, []string{"reason"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Submit requests, by outcome.",
		}, []string{"outcome"}),
		ScorePercentage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_score_percentage",
			Help:    "Percentage of scored attempts.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_live_sessions",
			Help: "Attempt sessions held by the websocket transport.",
		}),
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		}, []string{"method", "endpoint"}),
	}
	reg.MustRegister(
		m.AttemptsStarted,
		m.AttemptsResumed,
		m.EligibilityDenied,
		m.Submissions,
		m.ScorePercentage,
		m.ActiveSessions,
		m.RequestCounter,
		m.RequestDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Instrument records count and latency for one route.
func (m *Metrics) Instrument(endpoint string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
