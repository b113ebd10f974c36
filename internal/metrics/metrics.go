// Package metrics exposes the sync engine's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors a session reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Merges         *prometheus.CounterVec
	StaleResults   *prometheus.CounterVec
	Polls          *prometheus.CounterVec
	RealtimeEvents *prometheus.CounterVec
	FlowDispatches *prometheus.CounterVec
	ActivePollers  prometheus.Gauge
	ActiveFeeds    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opschat_merge_total",
			Help: "Messages folded into the open channel, by merge result.",
		}, []string{"result"}),
		StaleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opschat_stale_results_total",
			Help: "Async results dropped because a newer selection happened.",
		}, []string{"op"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opschat_polls_total",
			Help: "Polling fallback fetches, by outcome.",
		}, []string{"outcome"}),
		RealtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opschat_realtime_events_total",
			Help: "Realtime insert events, by disposition.",
		}, []string{"disposition"}),
		FlowDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opschat_flow_dispatch_total",
			Help: "Workflow actions sent to the backend.",
		}, []string{"kind", "outcome"}),
		ActivePollers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opschat_active_pollers",
			Help: "Running channel pollers.",
		}),
		ActiveFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "opschat_active_subscriptions",
			Help: "Open realtime subscriptions.",
		}),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.Merges,
		m.StaleResults,
		m.Polls,
		m.RealtimeEvents,
		m.FlowDispatches,
		m.ActivePollers,
		m.ActiveFeeds,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Merge(result string) {
	if m != nil {
		m.Merges.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Stale(op string) {
	if m != nil {
		m.StaleResults.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Poll(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Polls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Realtime(disposition string) {
	if m != nil {
		m.RealtimeEvents.WithLabelValues(disposition).Inc()
	}
}

func (m *Metrics) Dispatch(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.FlowDispatches.WithLabelValues(kind, outcome).Inc()
}

// PollerStarted and the other gauge helpers track live transports.
func (m *Metrics) PollerStarted() {
	if m != nil {
		m.ActivePollers.Inc()
	}
}

func (m *Metrics) PollerStopped() {
	if m != nil {
		m.ActivePollers.Dec()
	}
}

func (m *Metrics) FeedOpened() {
	if m != nil {
		m.ActiveFeeds.Inc()
	}
}

func (m *Metrics) FeedClosed() {
	if m != nil {
		m.ActiveFeeds.Dec()
	}
}
