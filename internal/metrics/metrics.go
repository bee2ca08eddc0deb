// Package metrics exposes live-update counters for the dashboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeDropped = "dropped"
	OutcomeIgnored = "ignored"
	OutcomeInvalid = "invalid"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	Registry *prometheus.Registry

	// PushEvents counts push events by type and outcome.
	PushEvents *prometheus.CounterVec
	// StatsRefreshes counts stats fetches by result: ok/failed/stale.
	StatsRefreshes *prometheus.CounterVec
	// TruckFetches counts truck list fetches by result.
	TruckFetches *prometheus.CounterVec
	// PushConnected is 1 while a push connection is open.
	PushConnected prometheus.Gauge
	// TrucksShown is the size of the current truck sequence.
	TrucksShown prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PushEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "truckdash_push_events_total",
				Help: "Push events received, by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		StatsRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "truckdash_stats_refresh_total",
				Help: "Stats fetches, by result.",
			},
			[]string{"result"},
		),
		TruckFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "truckdash_truck_fetch_total",
				Help: "Truck list fetches, by result.",
			},
			[]string{"result"},
		),
		PushConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "truckdash_push_connected",
			Help: "Push channel state (1=open, 0=closed).",
		}),
		TrucksShown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "truckdash_trucks_shown",
			Help: "Trucks in the current filtered view.",
		}),
	}
	m.Registry.MustRegister(
		m.PushEvents,
		m.StatsRefreshes,
		m.TruckFetches,
		m.PushConnected,
		m.TrucksShown,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) PushEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) StatsRefresh(result string) {
	if m == nil {
		return
	}
	m.StatsRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) TruckFetch(result string) {
	if m == nil {
		return
	}
	m.TruckFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) SetConnected(open bool) {
	if m == nil {
		return
	}
	if open {
		m.PushConnected.Set(1)
		return
	}
	m.PushConnected.Set(0)
}

func (m *Metrics) SetTrucksShown(n int) {
	if m == nil {
		return
	}
	m.TrucksShown.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
