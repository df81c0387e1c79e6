package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the messaging subsystem. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connections      prometheus.Gauge
	connectionsTotal prometheus.Counter
	onlineUsers      prometheus.Gauge
	events           *prometheus.CounterVec
	eventLatency     *prometheus.HistogramVec
	eventErrors      *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	slowConsumers    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coursechat_ws_connections_active",
			Help: "Current number of open websocket connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursechat_ws_connections_total",
			Help: "Total number of websocket connections accepted since start.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coursechat_users_online",
			Help: "Current number of users with at least one authenticated connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursechat_events_total",
			Help: "Inbound events handled, by type.",
		}, []string{"type"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coursechat_event_latency_seconds",
			Help:    "Latency for handling inbound events.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"type"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursechat_event_errors_total",
			Help: "Error events sent to clients, by code.",
		}, []string{"code"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coursechat_auth_failures_total",
			Help: "Failed authentication attempts, by reason.",
		}, []string{"reason"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coursechat_slow_consumers_total",
			Help: "Connections closed because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		m.connections,
		m.connectionsTotal,
		m.onlineUsers,
		m.events,
		m.eventLatency,
		m.eventErrors,
		m.authFailures,
		m.slowConsumers,
	)
	return m
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) UserOnline() {
	if m == nil {
		return
	}
	m.onlineUsers.Inc()
}

func (m *Metrics) UserOffline() {
	if m == nil {
		return
	}
	m.onlineUsers.Dec()
}

func (m *Metrics) ObserveEvent(typ string, dur time.Duration) {
	if m == nil || typ == "" {
		return
	}
	m.events.WithLabelValues(typ).Inc()
	m.eventLatency.WithLabelValues(typ).Observe(dur.Seconds())
}

func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.eventErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordSlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}
