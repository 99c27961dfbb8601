package chat

import "time"

type Direction int

const (
	DirectionSent Direction = iota + 1
	DirectionReceived
)

type Status int

const (
	StatusPending Status = iota + 1
	StatusSent
	StatusStreaming
	StatusComplete
	StatusFailed
)

// Message is one entry of the conversation history.
type Message struct {
	ID        string
	Direction Direction
	Author    string
	Body      string
	Status    Status
	Reason    string
	At        time.Time
}
