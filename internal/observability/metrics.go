package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/devportal-backend/models"
)

// Metrics owns a private Prometheus registry and the collectors the backend records into
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	signInAttempts  *prometheus.CounterVec
}

// NewMetrics creates the registry with Go and process collectors plus the backend's own
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.1, 0.3, 0.5, 0.7, 1, 3, 5, 7, 10},
		}, []string{"method", "route", "status_code"}),
		signInAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_attempts_total",
			Help: "Sign-in callback outcomes per provider",
		}, []string{"provider", "outcome"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.signInAttempts,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request
func (m *Metrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.requestDuration.
		WithLabelValues(method, route, strconv.Itoa(status)).
		Observe(duration.Seconds())
}

// ObserveSignIn implements auth.SignInObserver
func (m *Metrics) ObserveSignIn(_ context.Context, attempt models.SignInAttempt) {
	m.signInAttempts.WithLabelValues(attempt.Provider, string(attempt.Outcome)).Inc()
}
