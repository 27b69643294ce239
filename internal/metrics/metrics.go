// Package metrics exposes prometheus collectors for the web client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "asistencias"

type Metrics struct {
	Registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	upstreamInFlight prometheus.Gauge
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec

	busyVisible prometheus.Gauge
	workspaces  prometheus.Gauge
	authExpired prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Browser requests handled, by route pattern and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of browser requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method", "route"},
		),
		upstreamInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "inflight_requests",
			Help:      "Backend requests currently in flight.",
		}),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "requests_total",
				Help:      "Backend requests, by method and status code.",
			},
			[]string{"method", "code"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Time until the backend answered with headers.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"method"},
		),
		busyVisible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "busy",
			Name:      "visible_indicators",
			Help:      "Workspaces currently showing the loading indicator.",
		}),
		workspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "active",
			Help:      "Browser workspaces held in memory.",
		}),
		authExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejected_credentials_total",
			Help:      "Sessions cleared because the backend rejected the credential.",
		}),
	}

	m.Registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.upstreamInFlight,
		m.upstreamRequests,
		m.upstreamDuration,
		m.busyVisible,
		m.workspaces,
		m.authExpired,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// InstrumentTransport counts and times every backend exchange made through
// next.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.upstreamInFlight,
		promhttp.InstrumentRoundTripperCounter(m.upstreamRequests,
			promhttp.InstrumentRoundTripperDuration(m.upstreamDuration, next),
		),
	)
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// BusyVisibility follows one tracker's visibility changes.
func (m *Metrics) BusyVisibility(visible bool) {
	if visible {
		m.busyVisible.Inc()
	} else {
		m.busyVisible.Dec()
	}
}

func (m *Metrics) WorkspaceOpened() { m.workspaces.Inc() }

func (m *Metrics) WorkspaceClosed() { m.workspaces.Dec() }

func (m *Metrics) CredentialRejected() { m.authExpired.Inc() }
