package match

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricWaves                    = "waves_total"
	MetricMutualMatches            = "mutual_matches_total"
	MetricConversationsProvisioned = "conversations_provisioned_total"
	MetricProvisionFailures        = "match_provision_failures_total"
)

// Metrics contains Prometheus collectors for the match engine.
type Metrics struct {
	waves                    *prometheus.CounterVec
	mutualMatches            prometheus.Counter
	conversationsProvisioned *prometheus.CounterVec
	provisionFailures        prometheus.Counter
}

// NewMetrics creates unregistered match metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		waves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricWaves,
				Help: "Wave requests by outcome (recorded, already_sent, not_found, declined)",
			},
			[]string{"outcome"},
		),
		mutualMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMutualMatches,
			Help: "Wave requests that completed or confirmed a mutual match",
		}),
		conversationsProvisioned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricConversationsProvisioned,
				Help: "Conversation upserts after a mutual match by result (created, reused)",
			},
			[]string{"result"},
		),
		provisionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricProvisionFailures,
			Help: "Mutual matches whose conversation could not be provisioned after retries",
		}),
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
	return []prometheus.Collector{
		m.waves,
		m.mutualMatches,
		m.conversationsProvisioned,
		m.provisionFailures,
	}
}

func (m *Metrics) incWave(outcome Outcome) {
	if m == nil {
		return
	}
	m.waves.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) incMutual() {
	if m == nil {
		return
	}
	m.mutualMatches.Inc()
}

func (m *Metrics) incProvisioned(created bool) {
	if m == nil {
		return
	}
	result := "reused"
	if created {
		result = "created"
	}
	m.conversationsProvisioned.WithLabelValues(result).Inc()
}

func (m *Metrics) incProvisionFailure() {
	if m == nil {
		return
	}
	m.provisionFailures.Inc()
}
