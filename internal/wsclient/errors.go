package wsclient

import "errors"

var (
	// ErrClientClosed is returned by entry points called after Close.
	ErrClientClosed = errors.New("client is closed")

	// ErrNotConnected is returned by writes when no socket is established.
	ErrNotConnected = errors.New("not connected")

	// ErrSendTimeout is returned when a blocking send outlives its timeout.
	// The background attempt keeps running; see Client.SendMessage.
	ErrSendTimeout = errors.New("send timed out")

	errStaleConnection = errors.New("no keepalive ack within health timeout")
)
