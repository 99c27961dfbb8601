package wsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"wirechat/internal/metrics"
)

// reconnector drives bounded exponential-backoff reconnect campaigns. At
// most one campaign runs at a time; overlapping triggers collapse into the
// one already in flight.
type reconnector struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	maxAttempts int
	baseDelay   time.Duration
	connect     func(ctx context.Context) error

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

func newReconnector(logger *slog.Logger, m *metrics.Metrics, maxAttempts int, baseDelay time.Duration, connect func(ctx context.Context) error) *reconnector {
	return &reconnector{
		logger:      logger,
		metrics:     m,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		connect:     connect,
	}
}

// requestReconnect starts a campaign and reports true, or reports false
// when one is already running.
func (r *reconnector) requestReconnect() bool {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		r.logger.Debug("reconnect already in progress")

		return false
	}
	r.active = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go r.campaign(ctx, done)

	return true
}

// stop cancels the active campaign, if any, and waits for it to finish.
func (r *reconnector) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// campaign sleeps before every attempt, doubling the delay each time. A
// successful connect ends the campaign; exhaustion leaves the connection in
// whatever state the last connect set.
func (r *reconnector) campaign(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.active = false
		r.cancel = nil
		r.done = nil
		r.mu.Unlock()
		close(done)
	}()

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		delay := backoffDelay(r.baseDelay, attempt)
		r.logger.Info("reconnecting", "attempt", attempt+1, "max_attempts", r.maxAttempts, "delay", delay)
		if !sleepWithContext(ctx, delay) {
			return
		}

		r.metrics.RecordReconnectAttempt()
		if err := r.connect(ctx); err != nil {
			r.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}

		r.logger.Info("reconnected", "attempt", attempt+1)

		return
	}

	r.logger.Error("reconnect attempts exhausted", "attempts", r.maxAttempts)
}
