package wsclient

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame types of the chat wire protocol. Every frame is a UTF-8 text
// payload carrying one JSON envelope.
const (
	frameTextMessage     = "text_message"
	frameTextChunk       = "text_chunk"
	frameMessageComplete = "message_complete"
	frameError           = "error"
	framePing            = "ping"
	framePong            = "pong"
)

// envelopeKind is the closed variant set the correlator dispatches on.
type envelopeKind int

const (
	kindUnknown envelopeKind = iota
	kindChunk
	kindComplete
	kindError
	kindPing
	kindPong
)

// envelope is a decoded inbound frame. Servers address replies either by
// "id" or by the older "message_id" field; requestID folds the two.
type envelope struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	MessageID string  `json:"message_id"`
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

func (e envelope) kind() envelopeKind {
	switch e.Type {
	case frameTextChunk:
		return kindChunk
	case frameMessageComplete:
		return kindComplete
	case frameError:
		return kindError
	case framePing:
		return kindPing
	case framePong:
		return kindPong
	default:
		return kindUnknown
	}
}

func (e envelope) requestID() string {
	if e.ID != "" {
		return e.ID
	}

	return e.MessageID
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	return env, nil
}

func encodeTextMessage(id, content string) ([]byte, error) {
	return json.Marshal(struct {
		Type    string `json:"type"`
		ID      string `json:"id"`
		Content string `json:"content"`
	}{frameTextMessage, id, content})
}

func encodePing(now time.Time) ([]byte, error) {
	return json.Marshal(struct {
		Type      string  `json:"type"`
		Timestamp float64 `json:"timestamp"`
	}{framePing, float64(now.UnixNano()) / float64(time.Second)})
}
