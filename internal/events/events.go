package events

import "time"

// ConnectionState describes the websocket client lifecycle state.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
	ConnectionStateFailed       ConnectionState = "failed"
)

// ConnectionStatus is a bus event snapshot of current connection status.
type ConnectionStatus struct {
	State     ConnectionState
	Err       string
	Target    string
	Timestamp time.Time
}

// StreamChunk is one partial reply fragment for an in-flight request.
type StreamChunk struct {
	RequestID string
	Content   string
}

// RequestError is a server-reported failure for a single request.
type RequestError struct {
	RequestID string
	Message   string
}

// SendFailure is a terminal client-side send failure after all retries.
type SendFailure struct {
	RequestID string
	Attempts  int
	Err       string
}
