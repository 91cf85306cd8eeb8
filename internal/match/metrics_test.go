package match

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}

	m.incWave(OutcomeRecorded)
	m.incMutual()
	m.incProvisioned(true)
	m.incProvisionFailure()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	expected := map[string]bool{
		MetricWaves:                    false,
		MetricMutualMatches:            false,
		MetricConversationsProvisioned: false,
		MetricProvisionFailures:        false,
	}
	for _, family := range families {
		if _, ok := expected[family.GetName()]; ok {
			expected[family.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %s not found in gathered metrics", name)
		}
	}
}

func TestMetrics_Outcomes(t *testing.T) {
	f := newFixture(t, nil)
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")
	ctx := t.Context()

	_, _ = f.engine.RecordWave(ctx, "A", eventID, "0000")
	_, _ = f.engine.RecordWave(ctx, "A", eventID, "9310")
	_, _ = f.engine.RecordWave(ctx, "B", eventID, "4821")
	_, _ = f.engine.RecordWave(ctx, "A", eventID, "9310")

	tests := []struct {
		name    string
		counter prometheus.Counter
		want    float64
	}{
		{"not_found", f.metrics.waves.WithLabelValues(string(OutcomeNotFound)), 1},
		{"recorded", f.metrics.waves.WithLabelValues(string(OutcomeRecorded)), 2},
		{"already_sent", f.metrics.waves.WithLabelValues(string(OutcomeAlreadySent)), 1},
		{"mutual", f.metrics.mutualMatches, 2},
		{"created", f.metrics.conversationsProvisioned.WithLabelValues("created"), 1},
		{"reused", f.metrics.conversationsProvisioned.WithLabelValues("reused"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getCounterValue(t, tt.counter); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.incWave(OutcomeRecorded)
	m.incMutual()
	m.incProvisioned(false)
	m.incProvisionFailure()
}
