// Package metrics holds the Prometheus collectors of the feed service.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels of an upstream call.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport"
	OutcomeMalformed = "malformed"
)

// Service owns a private registry so tests can build as many as they need.
// A nil *Service is valid and records nothing.
type Service struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	upstreamCalls   *prometheus.HistogramVec
	recordsTotal    *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec
	upstreamUp      prometheus.Gauge
}

// New registers the collectors.
func New() *Service {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	upstreamCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calfeed_upstream_request_duration_seconds",
		Help:    "Duration of upstream scheduling portal calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"view", "outcome"})

	recordsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calfeed_upstream_records_total",
		Help: "Upstream records received, by view",
	}, []string{"view"})

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calfeed_events_emitted_total",
		Help: "Calendar events written to feeds, by feed",
	}, []string{"feed"})

	upstreamUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "calfeed_upstream_up",
		Help: "1 when the last upstream probe succeeded",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, upstreamCalls, recordsTotal, eventsTotal, upstreamUp, goroutines)

	return &Service{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		upstreamCalls:   upstreamCalls,
		recordsTotal:    recordsTotal,
		eventsTotal:     eventsTotal,
		upstreamUp:      upstreamUp,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Service) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *Service) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Service) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveUpstream records one upstream call and, on success, how many raw
// records it returned.
func (m *Service) ObserveUpstream(view, outcome string, records int, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(view, outcome).Observe(duration.Seconds())
	if outcome == OutcomeOK {
		m.recordsTotal.WithLabelValues(view).Add(float64(records))
	}
}

func (m *Service) AddEvents(feed string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsTotal.WithLabelValues(feed).Add(float64(n))
}

// SetUpstreamUp publishes the last probe result.
func (m *Service) SetUpstreamUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.upstreamUp.Set(1)
		return
	}
	m.upstreamUp.Set(0)
}
