package events

const (
	TopicConnStatus   = "conn.status"
	TopicStreamChunk  = "chat.stream.chunk"
	TopicChatMessage  = "chat.message"
	TopicRequestError = "chat.request.error"
	TopicSendFailure  = "chat.send.failure"
)
