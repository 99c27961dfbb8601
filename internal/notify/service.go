package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"wirechat/internal/bus"
	"wirechat/internal/chat"
	"wirechat/internal/config"
	"wirechat/internal/events"
)

// Service listens to bus events and emits user-facing notifications.
type Service struct {
	bus          bus.MessageBus
	currentPrefs func() config.NotificationsConfig
	sender       Sender
	logger       *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    events.ConnectionState
	lastConnStateSet bool
}

func NewService(
	messageBus bus.MessageBus,
	currentPrefs func() config.NotificationsConfig,
	sender Sender,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "notify")
	}

	return &Service{
		bus:          messageBus,
		currentPrefs: currentPrefs,
		sender:       sender,
		logger:       logger,
	}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	replySub := s.bus.Subscribe(events.TopicChatMessage)
	connSub := s.bus.Subscribe(events.TopicConnStatus)

	go func() {
		defer s.bus.Unsubscribe(replySub, events.TopicChatMessage)
		defer s.bus.Unsubscribe(connSub, events.TopicConnStatus)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-replySub:
				if !ok {
					return
				}
				msg, ok := raw.(chat.Message)
				if !ok {
					continue
				}
				s.handleReply(msg)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(events.ConnectionStatus)
				if !ok {
					continue
				}
				s.handleConnectionStatus(status)
			}
		}
	}()
}

func (s *Service) handleReply(msg chat.Message) {
	prefs := s.prefs()
	if !prefs.Enabled || !prefs.OnReply {
		return
	}
	if msg.Direction != chat.DirectionReceived || msg.Status != chat.StatusComplete {
		return
	}

	author := strings.TrimSpace(msg.Author)
	if author == "" {
		author = "assistant"
	}
	body := strings.TrimSpace(msg.Body)
	if body == "" {
		body = "(empty)"
	}

	s.send(Payload{
		Title:   author,
		Content: body,
	})
}

func (s *Service) handleConnectionStatus(status events.ConnectionStatus) {
	prefs := s.prefs()
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	s.connStatusMu.Unlock()

	// Intermediate states stay quiet; only edge transitions matter to the user.
	if status.State != events.ConnectionStateConnected &&
		status.State != events.ConnectionStateDisconnected {
		return
	}
	if !prefs.Enabled || !prefs.OnConnection {
		return
	}

	details := strings.TrimSpace(status.Target)
	if details == "" {
		details = "No connection details"
	}
	if status.State == events.ConnectionStateDisconnected {
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
	}

	s.send(Payload{
		Title:   fmt.Sprintf("Chat - %s", status.State),
		Content: details,
	})
}

func (s *Service) prefs() config.NotificationsConfig {
	if s.currentPrefs == nil {
		return config.Default().Notifications
	}

	return s.currentPrefs()
}

func (s *Service) send(notification Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(Payload{
		Title:   title,
		Content: content,
	})
}
