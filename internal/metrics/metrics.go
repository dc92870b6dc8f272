// Package metrics holds the Prometheus collectors for the auth and
// realtime layers. A nil *Metrics is valid and records nothing, so
// components can be built without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for auth operations.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics bundles every collector the server exports.
type Metrics struct {
	registry *prometheus.Registry

	authOps        *prometheus.CounterVec
	connections    prometheus.Gauge
	onlineUsers    prometheus.Gauge
	realtimeEvents *prometheus.CounterVec
	dropped        prometheus.Counter
	purged         prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authrt_auth_operations_total",
			Help: "Total number of auth session operations",
		}, []string{"operation", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authrt_realtime_connections",
			Help: "Number of live websocket connections",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authrt_online_users",
			Help: "Number of users with at least one authenticated connection",
		}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authrt_realtime_events_total",
			Help: "Total number of client events handled by the gateway",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authrt_realtime_dropped_total",
			Help: "Outbound events dropped because a connection's send buffer was full",
		}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authrt_refresh_tokens_purged_total",
			Help: "Expired refresh tokens removed by the janitor",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authOps, m.connections, m.onlineUsers, m.realtimeEvents, m.dropped, m.purged,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) AuthOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.authOps.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) UserOnline() {
	if m != nil {
		m.onlineUsers.Inc()
	}
}

func (m *Metrics) UserOffline() {
	if m != nil {
		m.onlineUsers.Dec()
	}
}

func (m *Metrics) RealtimeEvent(event string) {
	if m != nil {
		m.realtimeEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) Purged(n int64) {
	if m != nil && n > 0 {
		m.purged.Add(float64(n))
	}
}
