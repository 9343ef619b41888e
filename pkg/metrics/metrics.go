// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Channel labels identify which delivery surface triggered an operation.
const (
	ChannelPush = "push"
	ChannelPull = "pull"
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

	// MessagesTotal tracks messages appended to the store.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"channel"},
	)

	// MessagesReadTotal tracks messages transitioned to read.
	MessagesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_read_total",
			Help: "Total messages marked read",
		},
		[]string{"channel"},
	)

	// StoreOperationDuration tracks message store latency.
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Message store operation duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "status"},
	)

	// WSConnectionsActive tracks open WebSocket connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	// WSEventsTotal tracks client events received over WebSocket.
	WSEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_events_total",
			Help: "Total WebSocket client events",
		},
		[]string{"event", "status"},
	)

	// UsersOnline tracks users present in the presence registry.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "users_online",
			Help: "Number of users with an active connection",
		},
	)

	// SSEConnectionsActive tracks active SSE subscriptions.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// BusEventsTotal tracks events published on the internal bus.
	BusEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_total",
			Help: "Total conversation events published",
		},
		[]string{"type", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStoreOperation records the duration of a store call.
func RecordStoreOperation(operation string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	StoreOperationDuration.WithLabelValues(operation, status).Observe(duration)
}

// RecordWSEvent records a handled WebSocket client event.
func RecordWSEvent(event string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	WSEventsTotal.WithLabelValues(event, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
