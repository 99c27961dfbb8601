package wsclient

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"wirechat/internal/metrics"
)

// pendingRequest is one registered in-flight request: the callback pair plus
// bookkeeping. Owned by the correlator from registration until removal.
type pendingRequest struct {
	onChunk    func(content string)
	onComplete func()
	createdAt  time.Time
}

// correlator routes inbound envelopes to the callbacks of the request they
// belong to. handleFrame runs on the connection listener goroutine, so
// callbacks for one request arrive in wire order; register and remove are
// safe from any goroutine.
type correlator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	onAck          func()
	onRequestError func(id, message string)

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newCorrelator(logger *slog.Logger, m *metrics.Metrics, onAck func(), onRequestError func(id, message string)) *correlator {
	return &correlator{
		logger:         logger,
		metrics:        m,
		onAck:          onAck,
		onRequestError: onRequestError,
		pending:        make(map[string]*pendingRequest),
	}
}

// register stores the callback pair under a fresh correlation id.
func (c *correlator) register(onChunk func(string), onComplete func()) string {
	id := uuid.NewString()

	c.mu.Lock()
	c.pending[id] = &pendingRequest{
		onChunk:    onChunk,
		onComplete: onComplete,
		createdAt:  time.Now(),
	}
	c.mu.Unlock()

	return id
}

// remove drops the request if it is still registered. Safe to call for ids
// that were already removed.
func (c *correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// handleFrame decodes one inbound frame and dispatches it. Every failure is
// handled here; a bad frame must never take the listener down.
func (c *correlator) handleFrame(raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err, "len", len(raw))
		c.metrics.RecordError(metrics.StageDecode)

		return
	}

	switch env.kind() {
	case kindChunk:
		c.dispatchChunk(env)
	case kindComplete:
		c.dispatchComplete(env)
	case kindError:
		c.dispatchError(env)
	case kindPing, kindPong:
		if c.onAck != nil {
			c.onAck()
		}
	case kindUnknown:
		c.logger.Warn("ignoring unknown frame type", "type", env.Type)
	}
}

func (c *correlator) dispatchChunk(env envelope) {
	id := env.requestID()

	c.mu.Lock()
	req, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		// Late or duplicate chunk for a finished request.
		return
	}

	c.metrics.RecordChunk()
	if req.onChunk != nil {
		req.onChunk(env.Content)
	}
}

func (c *correlator) dispatchComplete(env envelope) {
	id := env.requestID()

	c.mu.Lock()
	req, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	if req.onComplete != nil {
		req.onComplete()
	}
	c.logger.Debug("request complete", "id", id, "took", time.Since(req.createdAt))
}

// dispatchError removes the request first, then surfaces the failure.
// Removal happens even when no handler was registered for the id.
func (c *correlator) dispatchError(env envelope) {
	id := env.requestID()

	c.mu.Lock()
	_, registered := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	c.metrics.RecordError(metrics.StageServer)
	c.logger.Error("server reported request failure", "id", id, "message", env.Content)
	if registered && c.onRequestError != nil {
		c.onRequestError(id, env.Content)
	}
}
