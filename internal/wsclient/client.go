// Package wsclient implements the persistent websocket client of the chat
// backend protocol: a long-lived auto-reconnecting connection with
// application-level keepalive, request/response correlation for streamed
// replies, and blocking timeout-bounded entry points safe to call from any
// goroutine.
package wsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"wirechat/internal/bus"
	"wirechat/internal/events"
	"wirechat/internal/metrics"
)

// Config carries the already-validated scalars the client consumes. Zero
// durations and sizes fall back to defaults.
type Config struct {
	URI            string
	ConnectTimeout time.Duration // websocket handshake bound
	SendTimeout    time.Duration // blocking SendMessage bound
	TestTimeout    time.Duration // blocking TestConnection bound
	MaxRetries     int           // additional send attempts, also reconnect attempts
	RetryDelay     time.Duration // backoff base for send retries and reconnects

	HealthEnabled bool
	PingInterval  time.Duration
	HealthTimeout time.Duration

	MaxFrameSize          int64
	WriteTimeout          time.Duration
	TransportPingInterval time.Duration
}

func DefaultConfig(uri string) Config {
	return Config{
		URI:                   uri,
		ConnectTimeout:        10 * time.Second,
		SendTimeout:           30 * time.Second,
		TestTimeout:           5 * time.Second,
		MaxRetries:            3,
		RetryDelay:            time.Second,
		HealthEnabled:         true,
		PingInterval:          120 * time.Second,
		HealthTimeout:         240 * time.Second,
		MaxFrameSize:          1 << 20,
		WriteTimeout:          10 * time.Second,
		TransportPingInterval: 20 * time.Second,
	}
}

func (c *Config) fillDefaults() {
	def := DefaultConfig(c.URI)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = def.TestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = def.HealthTimeout
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.TransportPingInterval <= 0 {
		c.TransportPingInterval = def.TransportPingInterval
	}
}

// Options are the side-channels the client reports into. Every field may be
// nil; the client's behavior does not depend on them.
type Options struct {
	Logger  *slog.Logger
	Bus     bus.MessageBus
	Metrics *metrics.Metrics
}

// Client is the façade over the connection, correlator, health monitor and
// reconnector. Entry points block the calling goroutine with explicit
// timeouts while the work itself runs on the client's own goroutines.
type Client struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	metrics *metrics.Metrics
	cfg     Config

	conn       *connection
	correlator *correlator
	health     *healthMonitor
	reconnect  *reconnector

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
}

func New(cfg Config, opts Options) *Client {
	cfg.fillDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		logger:  logger,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	c.health = newHealthMonitor(logger, opts.Metrics, cfg.PingInterval, cfg.HealthTimeout, c.sendPing, c.onUnhealthy)
	c.correlator = newCorrelator(logger, opts.Metrics, c.health.recordAck, c.publishRequestError)
	c.conn = newConnection(cfg, logger, opts.Metrics, connHooks{
		onFrame: c.correlator.handleFrame,
		onState: c.onConnState,
		onDown:  c.onConnectionDown,
		onAck:   c.health.recordAck,
	})
	c.reconnect = newReconnector(logger, opts.Metrics, cfg.MaxRetries, cfg.RetryDelay, c.conn.connect)

	return c
}

// SendMessage blocks until the enveloped message is written to the socket,
// retrying failed attempts with exponential backoff, and returns the send
// acknowledgment. Reply frames arrive later: onChunk runs once per streamed
// fragment in wire order, onComplete once when the reply finishes, both on
// the client's background goroutines.
//
// When SendMessage returns early (context cancelled or send timeout), the
// background attempt is not cancelled. Its eventual outcome is discarded
// and late callback invocations must be treated as no-ops by the caller.
func (c *Client) SendMessage(ctx context.Context, text string, onChunk func(string), onComplete func()) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	id := c.correlator.register(onChunk, onComplete)
	result := make(chan error, 1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result <- c.sendWithRetries(id, text)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send abandoned: %w", ctx.Err())
	case <-time.After(c.cfg.SendTimeout):
		c.logger.Warn("send timed out", "id", id, "timeout", c.cfg.SendTimeout)
		return ErrSendTimeout
	}
}

// TestConnection reports whether the backend is reachable, dialing first if
// no connection is established. Failures degrade to false, never an error.
func (c *Client) TestConnection(ctx context.Context) bool {
	if c.closed.Load() {
		return false
	}

	result := make(chan error, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result <- c.ensureConnected()
	}()

	select {
	case err := <-result:
		if err != nil {
			c.logger.Warn("connection test failed", "error", err)
			return false
		}
		return true
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.TestTimeout):
		c.logger.Warn("connection test timed out", "timeout", c.cfg.TestTimeout)
		return false
	}
}

// State reports the current connection state.
func (c *Client) State() events.ConnectionState {
	return c.conn.currentState()
}

// Close shuts the client down in order: health monitor, reconnect campaign,
// connection, background goroutines. Entry points return ErrClientClosed
// afterwards.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.health.stop()
	c.reconnect.stop()
	err := c.conn.close()
	c.cancel()
	c.wg.Wait()
	c.logger.Info("client closed")

	return err
}

// sendWithRetries runs the whole send campaign for one registered request.
// A terminal failure removes the pending request so reply frames for it are
// dropped as unknown.
func (c *Client) sendWithRetries(id, text string) error {
	start := time.Now()

	payload, err := encodeTextMessage(id, text)
	if err != nil {
		c.correlator.remove(id)

		return fmt.Errorf("encode message: %w", err)
	}

	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordSendRetry()
			if !sleepWithContext(c.ctx, backoffDelay(c.cfg.RetryDelay, attempt-1)) {
				lastErr = ErrClientClosed
				break
			}
			// Retries never reuse the socket of a failed attempt.
			_ = c.conn.close()
		}

		if err := c.ensureConnected(); err != nil {
			lastErr = err
			c.logger.Warn("send attempt could not connect", "id", id, "attempt", attempt+1, "error", err)
			continue
		}

		if err := c.conn.writeFrame(payload); err != nil {
			lastErr = err
			c.logger.Warn("send attempt failed", "id", id, "attempt", attempt+1, "error", err)
			continue
		}

		c.metrics.RecordMessageSent()
		c.metrics.ObserveSendDuration(time.Since(start))
		c.logger.Debug("message sent", "id", id, "attempt", attempt+1)

		return nil
	}

	c.correlator.remove(id)
	c.metrics.RecordError(metrics.StageSend)
	terminal := fmt.Errorf("send failed after %d attempts: %w", attempts, lastErr)
	c.logger.Error("send failed", "id", id, "attempts", attempts, "error", lastErr)
	c.publishSendFailure(id, attempts, terminal)

	return terminal
}

// ensureConnected dials only when no live connection exists.
func (c *Client) ensureConnected() error {
	if !c.conn.isClosed() {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.ConnectTimeout)
	defer cancel()

	return c.conn.connect(ctx)
}

func (c *Client) sendPing() error {
	payload, err := encodePing(time.Now())
	if err != nil {
		return err
	}

	return c.conn.writeFrame(payload)
}

func (c *Client) onConnState(state events.ConnectionState, err error) {
	c.publishStatus(state, err)
	if state == events.ConnectionStateConnected {
		// Fresh connection is the health baseline.
		c.health.recordAck()
		if c.cfg.HealthEnabled {
			c.health.start()
		}
	}
}

func (c *Client) onConnectionDown(err error) {
	c.triggerReconnect(err)
}

func (c *Client) onUnhealthy() {
	c.triggerReconnect(errStaleConnection)
}

// triggerReconnect collapses concurrent recovery triggers into at most one
// campaign.
func (c *Client) triggerReconnect(reason error) {
	if c.closed.Load() {
		return
	}
	if c.reconnect.requestReconnect() {
		c.metrics.RecordStateChange(string(events.ConnectionStateReconnecting))
		c.publishStatus(events.ConnectionStateReconnecting, reason)
	}
}

func (c *Client) publishStatus(state events.ConnectionState, err error) {
	if c.bus == nil {
		return
	}

	status := events.ConnectionStatus{
		State:     state,
		Target:    c.cfg.URI,
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	c.bus.Publish(events.TopicConnStatus, status)
}

func (c *Client) publishRequestError(id, message string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.TopicRequestError, events.RequestError{RequestID: id, Message: message})
}

func (c *Client) publishSendFailure(id string, attempts int, err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.TopicSendFailure, events.SendFailure{RequestID: id, Attempts: attempts, Err: err.Error()})
}

// backoffDelay grows exponentially: base, 2*base, 4*base, ...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
