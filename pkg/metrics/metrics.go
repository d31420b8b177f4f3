// Package metrics holds the Prometheus collectors of zero-dash.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zero_dash"

type Metrics struct {
	registry *prometheus.Registry

	IDPCalls         *prometheus.CounterVec
	IDPDuration      *prometheus.HistogramVec
	GuardResolutions *prometheus.CounterVec
	AuthorizedClient *prometheus.CounterVec
	AnalyticsFetches *prometheus.CounterVec
	DiscardedUpdates prometheus.Counter
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IDPCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "calls_total",
			Help:      "Identity provider calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		IDPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "call_duration_seconds",
			Help:      "Duration of identity provider calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		GuardResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "resolutions_total",
			Help:      "Session guard renders by state.",
		}, []string{"state"}),
		DiscardedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "discarded_updates_total",
			Help:      "Authentication checks that completed after the guard was unmounted.",
		}),
		AuthorizedClient: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authorizer",
			Name:      "requests_total",
			Help:      "Outbound API requests by authorization header presence.",
		}, []string{"header"}),
		AnalyticsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "fetches_total",
			Help:      "Analytics backend fetches by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IDPCalls,
		m.IDPDuration,
		m.GuardResolutions,
		m.DiscardedUpdates,
		m.AuthorizedClient,
		m.AnalyticsFetches,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
