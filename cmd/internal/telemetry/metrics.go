// Package telemetry defines the Prometheus metrics exported by nexus.
//
// A nil *Metrics is valid; every method is then a no-op, so components can
// take metrics as an optional dependency.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus"

// Metrics holds every collector nexus exports.
type Metrics struct {
	registry *prometheus.Registry

	authEvents *prometheus.CounterVec

	revocationEntries   prometheus.Gauge
	revocationSwept     prometheus.Counter
	revocationRecordErr *prometheus.CounterVec

	wsConnections *prometheus.CounterVec
	wsErrors      *prometheus.CounterVec
	sessions      prometheus.Gauge
	users         prometheus.Gauge

	busDelivered *prometheus.CounterVec
	busDropped   *prometheus.CounterVec

	notifications prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the nexus collectors (plus Go and process collectors) on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Authenticator operations by op and result.",
		}, []string{"op", "result"}),

		revocationEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "entries",
			Help:      "Live entries in the revocation store after the last sweep.",
		}),
		revocationSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "swept_total",
			Help:      "Expired revocation entries removed by the sweeper.",
		}),
		revocationRecordErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revocation",
			Name:      "record_failures_total",
			Help:      "Revocations that could not be written to the durable log.",
		}, []string{"reason"}),

		wsConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "WebSocket handshakes by outcome.",
		}, []string{"result"}),
		wsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "errors_total",
			Help:      "Error events sent to clients by code.",
		}, []string{"code"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "sessions",
			Help:      "Registered live sessions.",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "users",
			Help:      "Users with at least one live session.",
		}),

		busDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "delivered_total",
			Help:      "Events enqueued to a session by topic.",
		}, []string{"topic"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Events dropped because a session queue was full or closed.",
		}, []string{"topic"}),

		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "created_total",
			Help:      "Notifications persisted.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.authEvents,
		m.revocationEntries,
		m.revocationSwept,
		m.revocationRecordErr,
		m.wsConnections,
		m.wsErrors,
		m.sessions,
		m.users,
		m.busDelivered,
		m.busDropped,
		m.notifications,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AuthEvent counts an Authenticator operation ("login", "refresh", ...) by result.
func (m *Metrics) AuthEvent(op, result string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(op, result).Inc()
}

// RevocationSwept records a sweep pass.
func (m *Metrics) RevocationSwept(removed, remaining int) {
	if m == nil {
		return
	}
	m.revocationSwept.Add(float64(removed))
	m.revocationEntries.Set(float64(remaining))
}

// RevocationRecordFailed counts a durable-log failure ("error" or "queue_full").
func (m *Metrics) RevocationRecordFailed(reason string) {
	if m == nil {
		return
	}
	m.revocationRecordErr.WithLabelValues(reason).Inc()
}

// WSConnection counts a handshake outcome.
func (m *Metrics) WSConnection(result string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(result).Inc()
}

// WSError counts an error event sent to a client.
func (m *Metrics) WSError(code string) {
	if m == nil {
		return
	}
	m.wsErrors.WithLabelValues(code).Inc()
}

// Presence sets the registry gauges.
func (m *Metrics) Presence(users, sessions int) {
	if m == nil {
		return
	}
	m.users.Set(float64(users))
	m.sessions.Set(float64(sessions))
}

// Delivery records one publish outcome.
func (m *Metrics) Delivery(topic string, delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.busDelivered.WithLabelValues(topic).Add(float64(delivered))
	}
	if dropped > 0 {
		m.busDropped.WithLabelValues(topic).Add(float64(dropped))
	}
}

// NotificationCreated counts a stored notification.
func (m *Metrics) NotificationCreated() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

// HTTPRequest records a finished request.
func (m *Metrics) HTTPRequest(method, class string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, class).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}
