package wsclient

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type healthSpy struct {
	mu        sync.Mutex
	probes    int
	unhealthy int
	probeErr  error
	ackOnSend bool

	monitor *healthMonitor
}

func newHealthSpy(t *testing.T, interval, timeout time.Duration) *healthSpy {
	t.Helper()

	spy := &healthSpy{}
	spy.monitor = newHealthMonitor(testLogger(), nil, interval, timeout,
		func() error {
			spy.mu.Lock()
			spy.probes++
			err := spy.probeErr
			ack := spy.ackOnSend
			spy.mu.Unlock()
			if ack {
				spy.monitor.recordAck()
			}

			return err
		},
		func() {
			spy.mu.Lock()
			spy.unhealthy++
			spy.mu.Unlock()
		})
	t.Cleanup(spy.monitor.stop)

	return spy
}

func (s *healthSpy) probeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.probes
}

func (s *healthSpy) unhealthyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.unhealthy
}

func TestHealthMonitorProbesWhileFresh(t *testing.T) {
	spy := newHealthSpy(t, 10*time.Millisecond, time.Second)
	spy.ackOnSend = true

	spy.monitor.start()

	waitFor(t, time.Second, "three probes", func() bool {
		return spy.probeCount() >= 3
	})

	if n := spy.unhealthyCount(); n != 0 {
		t.Fatalf("unhealthy reports = %d, want 0", n)
	}
}

func TestHealthMonitorReportsStaleWithoutProbing(t *testing.T) {
	spy := newHealthSpy(t, 10*time.Millisecond, 50*time.Millisecond)

	// Backdate the last ack far beyond the timeout.
	spy.monitor.mu.Lock()
	spy.monitor.lastAck = time.Now().Add(-time.Minute)
	spy.monitor.mu.Unlock()

	spy.monitor.start()

	waitFor(t, time.Second, "unhealthy report", func() bool {
		return spy.unhealthyCount() >= 1
	})

	if n := spy.probeCount(); n != 0 {
		t.Fatalf("probes sent to a stale peer = %d, want 0", n)
	}
}

func TestHealthMonitorReportsProbeFailures(t *testing.T) {
	spy := newHealthSpy(t, 10*time.Millisecond, time.Second)
	spy.probeErr = errors.New("write frame: broken pipe")

	spy.monitor.start()

	// The loop keeps running through failures, so reports accumulate.
	waitFor(t, time.Second, "repeated unhealthy reports", func() bool {
		return spy.unhealthyCount() >= 2
	})

	if spy.probeCount() < 2 {
		t.Fatalf("probes = %d, want at least 2", spy.probeCount())
	}
}

func TestHealthMonitorAckResetsStaleness(t *testing.T) {
	spy := newHealthSpy(t, 10*time.Millisecond, 80*time.Millisecond)

	spy.monitor.start()

	// Keep acking for a while; the monitor must stay quiet.
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		spy.monitor.recordAck()
	}
	if n := spy.unhealthyCount(); n != 0 {
		t.Fatalf("unhealthy reports while acked = %d, want 0", n)
	}

	// Then fall silent and let the timeout expire.
	waitFor(t, time.Second, "staleness after acks stop", func() bool {
		return spy.unhealthyCount() >= 1
	})
}

func TestHealthMonitorStartIsIdempotent(t *testing.T) {
	spy := newHealthSpy(t, 10*time.Millisecond, time.Second)
	spy.ackOnSend = true

	spy.monitor.start()
	spy.monitor.start()

	waitFor(t, time.Second, "first probes", func() bool {
		return spy.probeCount() >= 2
	})
	spy.monitor.stop()

	// No loop may survive the stop, including a hypothetical second one.
	before := spy.probeCount()
	time.Sleep(30 * time.Millisecond)
	if n := spy.probeCount(); n != before {
		t.Fatalf("probes kept running after stop: %d -> %d", before, n)
	}
}

func TestHealthMonitorStopIsTerminal(t *testing.T) {
	spy := newHealthSpy(t, 5*time.Millisecond, time.Second)

	spy.monitor.start()
	spy.monitor.stop()

	// A start after stop must not revive the loop.
	before := spy.probeCount()
	spy.monitor.start()
	time.Sleep(30 * time.Millisecond)

	if n := spy.probeCount(); n != before {
		t.Fatalf("probes after terminal stop grew from %d to %d", before, n)
	}
}
