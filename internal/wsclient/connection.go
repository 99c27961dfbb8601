package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wirechat/internal/events"
	"wirechat/internal/metrics"
)

const closeHandshakeTimeout = time.Second

// dialFunc establishes one websocket handshake. compression reports whether
// the permessage-deflate extension is offered to the server.
type dialFunc func(ctx context.Context, uri string, compression bool) (*websocket.Conn, error)

// connHooks are the owner-supplied callbacks the connection reports into.
type connHooks struct {
	// onFrame receives every inbound text frame.
	onFrame func(raw []byte)
	// onState fires on every state transition.
	onState func(state events.ConnectionState, err error)
	// onDown fires when an established connection is lost for any reason
	// other than a local close.
	onDown func(err error)
	// onAck fires on transport-level pong frames.
	onAck func()
}

// connection owns the websocket handle and its lifecycle state machine.
// Reconnecting it is the reconnector's job; the connection itself never
// retries beyond the single no-compression fallback dial.
type connection struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	hooks   connHooks
	dial    dialFunc

	mu             sync.Mutex
	state          events.ConnectionState
	ws             *websocket.Conn
	cancelListener context.CancelFunc

	writeMu sync.Mutex
}

func newConnection(cfg Config, logger *slog.Logger, m *metrics.Metrics, hooks connHooks) *connection {
	return &connection{
		logger:  logger,
		metrics: m,
		cfg:     cfg,
		hooks:   hooks,
		dial:    defaultDial(cfg.ConnectTimeout),
		state:   events.ConnectionStateDisconnected,
	}
}

func defaultDial(handshakeTimeout time.Duration) dialFunc {
	return func(ctx context.Context, uri string, compression bool) (*websocket.Conn, error) {
		dialer := websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: compression,
		}

		ws, _, err := dialer.DialContext(ctx, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", uri, err)
		}

		return ws, nil
	}
}

// connect establishes the transport. A call while another attempt is in
// flight returns nil immediately; a call while connected redials. Failures
// of both the compressed and the fallback dial leave the state at failed
// and are returned to the caller.
func (c *connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == events.ConnectionStateConnecting {
		c.mu.Unlock()
		c.logger.Debug("connect skipped: attempt already in progress")

		return nil
	}
	c.state = events.ConnectionStateConnecting
	oldWS, oldCancel := c.ws, c.cancelListener
	c.ws, c.cancelListener = nil, nil
	c.mu.Unlock()

	c.notifyState(events.ConnectionStateConnecting, nil)
	dropSocket(oldWS, oldCancel)

	ws, err := c.dialWithFallback(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = events.ConnectionStateFailed
		c.mu.Unlock()

		c.metrics.RecordError(metrics.StageConnect)
		c.notifyState(events.ConnectionStateFailed, err)
		c.logger.Warn("connect failed", "target", c.cfg.URI, "error", err)

		return err
	}

	ws.SetReadLimit(c.cfg.MaxFrameSize)
	ws.SetPongHandler(func(string) error {
		if c.hooks.onAck != nil {
			c.hooks.onAck()
		}

		return nil
	})

	listenCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.ws = ws
	c.cancelListener = cancel
	c.state = events.ConnectionStateConnected
	c.mu.Unlock()

	go c.listen(listenCtx, ws)
	go c.keepTransportAlive(listenCtx, ws)

	c.notifyState(events.ConnectionStateConnected, nil)
	c.logger.Info("connected", "target", c.cfg.URI)

	return nil
}

// dialWithFallback tries the compressed handshake first and falls back to a
// single plain dial before giving up.
func (c *connection) dialWithFallback(ctx context.Context) (*websocket.Conn, error) {
	ws, err := c.dial(ctx, c.cfg.URI, true)
	if err == nil {
		return ws, nil
	}

	c.logger.Warn("connect with compression failed, retrying without", "error", err)
	ws, fallbackErr := c.dial(ctx, c.cfg.URI, false)
	if fallbackErr != nil {
		return nil, fmt.Errorf("connect with and without compression: %w", fallbackErr)
	}

	return ws, nil
}

// listen pumps inbound frames into the onFrame hook until the socket dies.
// The hook owns per-frame error handling; one bad frame never ends the loop.
func (c *connection) listen(ctx context.Context, ws *websocket.Conn) {
	var reason error
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			reason = err
			break
		}
		if c.hooks.onFrame != nil {
			c.hooks.onFrame(raw)
		}
	}

	if ctx.Err() != nil {
		// Local close or a newer connect superseded this listener.
		return
	}

	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()

		return
	}
	c.ws = nil
	if c.cancelListener != nil {
		c.cancelListener()
		c.cancelListener = nil
	}

	next := events.ConnectionStateFailed
	var closeErr *websocket.CloseError
	if errors.As(reason, &closeErr) {
		next = events.ConnectionStateDisconnected
	}
	c.state = next
	c.mu.Unlock()

	_ = ws.Close()

	if next == events.ConnectionStateFailed {
		c.metrics.RecordError(metrics.StageListener)
		c.logger.Warn("listener failed", "error", reason)
	} else {
		c.logger.Info("connection closed by peer", "code", closeErr.Code)
	}

	c.notifyState(next, reason)
	if c.hooks.onDown != nil {
		c.hooks.onDown(reason)
	}
}

// keepTransportAlive sends websocket control pings so intermediaries keep
// the connection open; pong replies land in the onAck hook.
func (c *connection) keepTransportAlive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.TransportPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("transport ping failed", "error", err)
			}
		}
	}
}

// writeFrame sends one text frame. Writes are serialized; the socket is
// never exposed to callers.
func (c *connection) writeFrame(payload []byte) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// close cancels the listener, performs a best-effort close handshake and
// sets the state to disconnected unconditionally.
func (c *connection) close() error {
	c.mu.Lock()
	ws, cancel := c.ws, c.cancelListener
	c.ws, c.cancelListener = nil, nil
	alreadyDown := c.state == events.ConnectionStateDisconnected
	c.state = events.ConnectionStateDisconnected
	c.mu.Unlock()

	dropSocket(ws, cancel)

	if !alreadyDown {
		c.notifyState(events.ConnectionStateDisconnected, nil)
	}
	if ws != nil {
		c.logger.Info("closed", "target", c.cfg.URI)
	}

	return nil
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ws == nil || c.state != events.ConnectionStateConnected
}

func (c *connection) currentState() events.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *connection) notifyState(state events.ConnectionState, err error) {
	c.metrics.RecordStateChange(string(state))
	if c.hooks.onState != nil {
		c.hooks.onState(state, err)
	}
}

// dropSocket cancels the listener before closing the socket so the listener
// observes the cancellation, not a spurious read error.
func dropSocket(ws *websocket.Conn, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if ws == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeHandshakeTimeout))
	_ = ws.Close()
}
