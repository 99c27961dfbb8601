package wsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wirechat/internal/metrics"
)

// healthMonitor detects a silently-dead connection. Staleness is judged by
// the time since the last acknowledged keepalive, not the last sent probe.
type healthMonitor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	interval time.Duration
	timeout  time.Duration

	sendProbe   func() error
	onUnhealthy func()

	mu      sync.Mutex
	lastAck time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

func newHealthMonitor(logger *slog.Logger, m *metrics.Metrics, interval, timeout time.Duration, sendProbe func() error, onUnhealthy func()) *healthMonitor {
	return &healthMonitor{
		logger:      logger,
		metrics:     m,
		interval:    interval,
		timeout:     timeout,
		sendProbe:   sendProbe,
		onUnhealthy: onUnhealthy,
		lastAck:     time.Now(),
	}
}

// start launches the probe loop. A call while the loop is already running,
// or after stop, is a no-op.
func (h *healthMonitor) start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil || h.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	h.logger.Debug("health monitor started", "interval", h.interval, "timeout", h.timeout)
	go h.run(ctx, h.done)
}

// stop cancels the probe loop and waits for it to finish. The monitor is
// terminal after stop; it cannot be started again.
func (h *healthMonitor) stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.closed = true
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// recordAck marks the peer as alive now. Wired to application-level
// ping/pong frames and transport pongs.
func (h *healthMonitor) recordAck() {
	h.mu.Lock()
	h.lastAck = time.Now()
	h.mu.Unlock()
}

func (h *healthMonitor) sinceAck() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	return time.Since(h.lastAck)
}

func (h *healthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check()
		}
	}
}

// check runs once per interval: a stale peer skips the probe and reports
// unhealthy; otherwise a probe is sent and a send failure also reports
// unhealthy. The loop itself never stops on either.
func (h *healthMonitor) check() {
	if stale := h.sinceAck(); stale > h.timeout {
		h.logger.Warn("connection is stale", "since_ack", stale, "timeout", h.timeout)
		h.metrics.RecordError(metrics.StageHealth)
		h.onUnhealthy()

		return
	}

	h.metrics.RecordHealthProbe()
	if err := h.sendProbe(); err != nil {
		h.logger.Warn("keepalive probe failed", "error", err)
		h.metrics.RecordError(metrics.StageHealth)
		h.onUnhealthy()
	}
}
