package chat

import "errors"

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrRateLimited    = errors.New("rate limit exceeded")
)
