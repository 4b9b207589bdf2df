// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"type"},
	)

	// MessagesTotal tracks messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"type"},
	)

	// RealtimeConnectionsActive tracks live WebSocket and SSE connections.
	RealtimeConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of active real-time connections",
		},
		[]string{"transport"},
	)

	// RealtimeEventsTotal tracks fan-out outcomes per event name.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Real-time events by delivery outcome",
		},
		[]string{"event", "outcome"},
	)

	// RelayPublishErrors tracks failed cross-instance publishes.
	RelayPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_publish_errors_total",
			Help: "Failed cross-instance event publishes",
		},
		[]string{"backend"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDelivery records how many connections received an event.
func RecordDelivery(event string, delivered, dropped int) {
	if delivered > 0 {
		RealtimeEventsTotal.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		RealtimeEventsTotal.WithLabelValues(event, "dropped").Add(float64(dropped))
	}
	if delivered == 0 && dropped == 0 {
		RealtimeEventsTotal.WithLabelValues(event, "offline").Inc()
	}
}

// IncrementConnections increments the active connection gauge.
func IncrementConnections(transport string) {
	RealtimeConnectionsActive.WithLabelValues(transport).Inc()
}

// DecrementConnections decrements the active connection gauge.
func DecrementConnections(transport string) {
	RealtimeConnectionsActive.WithLabelValues(transport).Dec()
}
