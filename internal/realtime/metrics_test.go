package realtime

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected error on duplicate registration")
	}
}

func TestMetrics_ConnectionGauge(t *testing.T) {
	m := NewMetrics()
	b := NewBroadcaster(m)

	a, c := &fakeConn{}, &fakeConn{}
	b.Subscribe("alice", a)
	b.Subscribe("bob", c)
	b.Unsubscribe(a)

	var metric dto.Metric
	if err := m.connections.Write(&metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 1 {
		t.Errorf("connections gauge = %v, want 1", got)
	}

	b.Deliver(context.Background(), "nobody", []byte(`{}`))
	var counter dto.Metric
	if err := m.messages.WithLabelValues("no_subscriber").Write(&counter); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Errorf("no_subscriber = %v, want 1", got)
	}

	// A failed write drops the connection; a later Unsubscribe from the
	// handler must not count it twice.
	c.err = errors.New("broken pipe")
	b.Deliver(context.Background(), "bob", []byte(`{}`))
	b.Unsubscribe(c)
	if err := m.connections.Write(&metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if got := metric.GetGauge().GetValue(); got != 0 {
		t.Errorf("connections gauge after drop = %v, want 0", got)
	}
}
