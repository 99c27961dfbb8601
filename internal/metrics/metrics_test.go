package metrics

import (
	"testing"
	"time"
)

func TestRecordersIncrementCounters(t *testing.T) {
	m := New()

	m.RecordMessageSent()
	m.RecordMessageSent()
	m.RecordChunk()
	m.RecordError(StageSend)
	m.RecordStateChange("connected")
	m.ObserveSendDuration(50 * time.Millisecond)

	if got := metricValue(t, m, "wirechat_messages_sent_total"); got != 2 {
		t.Fatalf("expected 2 sent messages, got %v", got)
	}
	if got := metricValue(t, m, "wirechat_chunks_received_total"); got != 1 {
		t.Fatalf("expected 1 chunk, got %v", got)
	}
	if got := metricValue(t, m, "wirechat_errors_total"); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := metricValue(t, m, "wirechat_connected"); got != 1 {
		t.Fatalf("expected connected gauge 1, got %v", got)
	}

	m.RecordStateChange("disconnected")
	if got := metricValue(t, m, "wirechat_connected"); got != 0 {
		t.Fatalf("expected connected gauge 0 after disconnect, got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.RecordMessageSent()
	m.RecordChunk()
	m.RecordSendRetry()
	m.RecordReconnectAttempt()
	m.RecordHealthProbe()
	m.RecordError(StageConnect)
	m.RecordStateChange("connected")
	m.ObserveSendDuration(time.Second)
}

// metricValue sums every sample of the named family, which collapses
// labelled counters into a single value for assertions.
func metricValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		var sum float64
		for _, sample := range mf.GetMetric() {
			switch {
			case sample.GetCounter() != nil:
				sum += sample.GetCounter().GetValue()
			case sample.GetGauge() != nil:
				sum += sample.GetGauge().GetValue()
			}
		}

		return sum
	}

	t.Fatalf("metric family %q not found", name)

	return 0
}
