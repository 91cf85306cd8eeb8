package checkin

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricCheckIns      = "checkins_total"
	MetricPINCollisions = "checkin_pin_collisions_total"
	MetricGeoCapture    = "checkin_geo_capture_total"
)

// Check-in results recorded on MetricCheckIns.
const (
	ResultCreated           = "created"
	ResultExisting          = "existing"
	ResultInvalidCredential = "invalid_credential"
	ResultExhausted         = "pin_space_exhausted"
	ResultError             = "error"
)

// Metrics contains Prometheus collectors for check-in operations.
type Metrics struct {
	checkIns      *prometheus.CounterVec
	pinCollisions prometheus.Counter
	geoCapture    *prometheus.CounterVec
}

// NewMetrics creates unregistered check-in metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		checkIns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCheckIns,
				Help: "Check-in attempts by result",
			},
			[]string{"result"},
		),
		pinCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPINCollisions,
			Help: "PIN candidates rejected because the PIN was already used at the event",
		}),
		geoCapture: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricGeoCapture,
				Help: "Location capture attempts during check-in by outcome (ok, unavailable, timeout)",
			},
			[]string{"outcome"},
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

// Collectors returns all collectors, for registration and tests.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.checkIns, m.pinCollisions, m.geoCapture}
}

func (m *Metrics) incCheckIn(result string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(result).Inc()
}

func (m *Metrics) incPINCollision() {
	if m == nil {
		return
	}
	m.pinCollisions.Inc()
}

func (m *Metrics) incGeoCapture(outcome string) {
	if m == nil {
		return
	}
	m.geoCapture.WithLabelValues(outcome).Inc()
}
