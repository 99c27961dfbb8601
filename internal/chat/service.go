// Package chat layers conversation rules on top of the websocket client:
// outbound validation, rate limiting and a bounded history of the exchange.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"wirechat/internal/bus"
	"wirechat/internal/events"
)

// Messenger is the transport the service talks through.
type Messenger interface {
	SendMessage(ctx context.Context, text string, onChunk func(string), onComplete func()) error
	TestConnection(ctx context.Context) bool
}

// Config bounds what the service accepts.
type Config struct {
	MaxMessageLength int
	RateLimit        int
	RateWindow       time.Duration
	AssistantName    string
}

type Service struct {
	logger    *slog.Logger
	bus       bus.MessageBus
	messenger Messenger
	history   *History
	limiter   *slidingWindow
	cfg       Config
}

func NewService(logger *slog.Logger, b bus.MessageBus, messenger Messenger, history *History, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 4000
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "assistant"
	}

	return &Service{
		logger:    logger,
		bus:       b,
		messenger: messenger,
		history:   history,
		limiter:   newSlidingWindow(cfg.RateLimit, cfg.RateWindow),
		cfg:       cfg,
	}
}

// Start launches the pump that turns server-reported request failures into
// history updates.
func (s *Service) Start(ctx context.Context) {
	if s.bus == nil {
		return
	}

	sub := s.bus.Subscribe(events.TopicRequestError)
	go func() {
		defer s.bus.Unsubscribe(sub, events.TopicRequestError)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				reqErr, ok := raw.(events.RequestError)
				if !ok {
					continue
				}
				if s.history.FailNewestStreaming(reqErr.Message) {
					s.logger.Warn("reply failed", "message", reqErr.Message)
				}
			}
		}
	}()
}

// Send validates text, records it in the history and hands it to the
// messenger. The reply streams into the history asynchronously.
func (s *Service) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxMessageLength {
		return fmt.Errorf("%w: %d runes, limit %d", ErrMessageTooLong, n, s.cfg.MaxMessageLength)
	}
	if !s.limiter.allow(time.Now()) {
		s.logger.Warn("rate limit hit", "limit", s.cfg.RateLimit, "window", s.cfg.RateWindow)

		return ErrRateLimited
	}

	sentID := uuid.NewString()
	replyID := uuid.NewString()
	s.history.Append(Message{
		ID:        sentID,
		Direction: DirectionSent,
		Author:    "you",
		Body:      text,
		Status:    StatusPending,
	})

	err := s.messenger.SendMessage(ctx, text,
		func(content string) {
			s.history.AppendChunk(replyID, s.cfg.AssistantName, content)
			s.publishChunk(replyID, content)
		},
		func() {
			if !s.history.UpdateStatus(replyID, StatusComplete, "") {
				// Empty reply: completion arrived without a single chunk.
				s.history.Append(Message{
					ID:        replyID,
					Direction: DirectionReceived,
					Author:    s.cfg.AssistantName,
					Status:    StatusComplete,
				})
			}
			s.publishReply(replyID)
		})
	if err != nil {
		s.history.UpdateStatus(sentID, StatusFailed, err.Error())

		return err
	}

	s.history.UpdateStatus(sentID, StatusSent, "")

	return nil
}

// TestConnection reports whether the chat backend currently answers.
func (s *Service) TestConnection(ctx context.Context) bool {
	return s.messenger.TestConnection(ctx)
}

// History returns the conversation snapshot.
func (s *Service) History() []Message {
	return s.history.Messages()
}

// Changes signals history updates.
func (s *Service) Changes() <-chan struct{} {
	return s.history.Changes()
}

func (s *Service) publishChunk(id, content string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicStreamChunk, events.StreamChunk{RequestID: id, Content: content})
}

func (s *Service) publishReply(id string) {
	if s.bus == nil {
		return
	}
	if msg, ok := s.history.Get(id); ok {
		s.bus.Publish(events.TopicChatMessage, msg)
	}
}
