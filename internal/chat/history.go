package chat

import (
	"sync"
	"time"
)

// History is a bounded, in-memory log of the conversation. The oldest
// entries fall off once the cap is reached.
type History struct {
	mu      sync.RWMutex
	limit   int
	entries []Message
	changes chan struct{}
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}

	return &History{
		limit:   limit,
		changes: make(chan struct{}, 1),
	}
}

func (h *History) Append(msg Message) {
	h.mu.Lock()
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	h.entries = h.trim(append(h.entries, msg))
	h.mu.Unlock()

	h.notify()
}

// AppendChunk extends the streaming entry with the given id, creating it on
// the first fragment.
func (h *History) AppendChunk(id, author, content string) {
	h.mu.Lock()
	if msg := h.lookup(id); msg != nil {
		msg.Body += content
	} else {
		h.entries = h.trim(append(h.entries, Message{
			ID:        id,
			Direction: DirectionReceived,
			Author:    author,
			Body:      content,
			Status:    StatusStreaming,
			At:        time.Now(),
		}))
	}
	h.mu.Unlock()

	h.notify()
}

// UpdateStatus sets the status of the entry with the given id and reports
// whether the entry exists.
func (h *History) UpdateStatus(id string, status Status, reason string) bool {
	h.mu.Lock()
	msg := h.lookup(id)
	if msg == nil {
		h.mu.Unlock()

		return false
	}
	msg.Status = status
	msg.Reason = reason
	h.mu.Unlock()

	h.notify()

	return true
}

// FailNewestStreaming marks the most recent streaming entry as failed. The
// chat protocol runs one reply stream at a time, so a server failure refers
// to the newest in-flight entry.
func (h *History) FailNewestStreaming(reason string) bool {
	h.mu.Lock()
	var msg *Message
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Status == StatusStreaming {
			msg = &h.entries[i]
			break
		}
	}
	if msg == nil {
		h.mu.Unlock()

		return false
	}
	msg.Status = StatusFailed
	msg.Reason = reason
	h.mu.Unlock()

	h.notify()

	return true
}

// Messages returns a snapshot in insertion order.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, len(h.entries))
	copy(out, h.entries)

	return out
}

// Get returns the entry with the given id.
func (h *History) Get(id string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg := h.lookup(id); msg != nil {
		return *msg, true
	}

	return Message{}, false
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.entries)
}

// Changes carries at most one pending signal; readers drain and re-read.
func (h *History) Changes() <-chan struct{} {
	return h.changes
}

func (h *History) lookup(id string) *Message {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].ID == id {
			return &h.entries[i]
		}
	}

	return nil
}

func (h *History) trim(entries []Message) []Message {
	if len(entries) > h.limit {
		entries = entries[len(entries)-h.limit:]
	}

	return entries
}

func (h *History) notify() {
	select {
	case h.changes <- struct{}{}:
	default:
	}
}
