package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricConnections = "realtime_connections"
	MetricMessages    = "realtime_messages_total"
	MetricRelayErrors = "realtime_relay_errors_total"
)

// Metrics contains Prometheus collectors for realtime delivery.
type Metrics struct {
	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	relayErrors *prometheus.CounterVec
}

// NewMetrics creates unregistered realtime metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricConnections,
			Help: "Open realtime WebSocket connections on this instance",
		}),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricMessages,
				Help: "Realtime messages by delivery result (delivered, failed, no_subscriber)",
			},
			[]string{"result"},
		),
		relayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRelayErrors,
				Help: "Redis relay errors by operation (publish, decode)",
			},
			[]string{"operation"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.connections, m.messages, m.relayErrors}
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) incMessage(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

func (m *Metrics) incRelayError(operation string) {
	if m == nil {
		return
	}
	m.relayErrors.WithLabelValues(operation).Inc()
}
