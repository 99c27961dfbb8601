package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"wirechat/internal/bus"
	"wirechat/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMessageBus(t *testing.T) *bus.Bus {
	t.Helper()

	messageBus := bus.New(testLogger())
	t.Cleanup(messageBus.Close)

	return messageBus
}

// fakeMessenger replays a canned reply through the callbacks, synchronously.
type fakeMessenger struct {
	mu        sync.Mutex
	sent      []string
	err       error
	chunks    []string
	complete  bool
	reachable bool
}

func (f *fakeMessenger) SendMessage(_ context.Context, text string, onChunk func(string), onComplete func()) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	for _, chunk := range f.chunks {
		onChunk(chunk)
	}
	if f.complete {
		onComplete()
	}

	return nil
}

func (f *fakeMessenger) TestConnection(context.Context) bool {
	return f.reachable
}

func (f *fakeMessenger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sent)
}

func newTestService(t *testing.T, messenger *fakeMessenger, cfg Config) (*Service, *bus.Bus) {
	t.Helper()

	messageBus := newTestMessageBus(t)
	svc := NewService(testLogger(), messageBus, messenger, NewHistory(50), cfg)

	return svc, messageBus
}

func TestService_Send_RejectsInvalidMessages(t *testing.T) {
	messenger := &fakeMessenger{complete: true}
	svc, _ := newTestService(t, messenger, Config{MaxMessageLength: 5})

	if err := svc.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if err := svc.Send(context.Background(), "héllo!"); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	// Length counts runes, not bytes.
	if err := svc.Send(context.Background(), "héllo"); err != nil {
		t.Fatalf("expected 5-rune message to pass, got %v", err)
	}
	if messenger.sentCount() != 1 {
		t.Fatalf("expected exactly one message to reach the transport, got %d", messenger.sentCount())
	}
}

func TestService_Send_RecordsExchange(t *testing.T) {
	messenger := &fakeMessenger{chunks: []string{"He", "llo"}, complete: true}
	svc, messageBus := newTestService(t, messenger, Config{})

	chunkSub := messageBus.Subscribe(events.TopicStreamChunk)
	replySub := messageBus.Subscribe(events.TopicChatMessage)

	if err := svc.Send(context.Background(), "hi there"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgs := svc.History()
	if len(msgs) != 2 {
		t.Fatalf("expected sent plus reply in history, got %d entries", len(msgs))
	}
	if msgs[0].Direction != DirectionSent || msgs[0].Status != StatusSent || msgs[0].Body != "hi there" {
		t.Fatalf("unexpected sent entry: %+v", msgs[0])
	}
	if msgs[1].Direction != DirectionReceived || msgs[1].Status != StatusComplete {
		t.Fatalf("unexpected reply entry: %+v", msgs[1])
	}
	if msgs[1].Body != "Hello" {
		t.Fatalf("expected reassembled reply %q, got %q", "Hello", msgs[1].Body)
	}
	if msgs[1].Author != "assistant" {
		t.Fatalf("expected default assistant author, got %q", msgs[1].Author)
	}

	for i := 0; i < 2; i++ {
		select {
		case raw := <-chunkSub:
			if _, ok := raw.(events.StreamChunk); !ok {
				t.Fatalf("expected StreamChunk event, got %T", raw)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for chunk event %d", i+1)
		}
	}
	select {
	case raw := <-replySub:
		reply, ok := raw.(Message)
		if !ok {
			t.Fatalf("expected chat message event, got %T", raw)
		}
		if reply.Body != "Hello" {
			t.Fatalf("expected reply body %q, got %q", "Hello", reply.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply event")
	}
}

func TestService_Send_AppliesRateLimit(t *testing.T) {
	messenger := &fakeMessenger{complete: true}
	svc, _ := newTestService(t, messenger, Config{RateLimit: 2, RateWindow: time.Minute})

	if err := svc.Send(context.Background(), "one"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := svc.Send(context.Background(), "two"); err != nil {
		t.Fatalf("second send failed: %v", err)
	}
	if err := svc.Send(context.Background(), "three"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if messenger.sentCount() != 2 {
		t.Fatalf("expected limiter to stop the third send, transport saw %d", messenger.sentCount())
	}
}

func TestService_Send_MarksTransportFailure(t *testing.T) {
	messenger := &fakeMessenger{err: errors.New("send failed after 3 attempts: connection refused")}
	svc, _ := newTestService(t, messenger, Config{})

	err := svc.Send(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected transport error to propagate")
	}

	msgs := svc.History()
	if len(msgs) != 1 {
		t.Fatalf("expected only the sent entry, got %d", len(msgs))
	}
	if msgs[0].Status != StatusFailed {
		t.Fatalf("expected failed status, got %v", msgs[0].Status)
	}
	if !strings.Contains(msgs[0].Reason, "connection refused") {
		t.Fatalf("expected failure reason on the entry, got %q", msgs[0].Reason)
	}
}

func TestService_Start_FailsStreamingReplyOnServerError(t *testing.T) {
	messenger := &fakeMessenger{}
	svc, messageBus := newTestService(t, messenger, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	svc.history.AppendChunk("r1", "assistant", "partial")

	messageBus.Publish(events.TopicRequestError, events.RequestError{
		RequestID: "req-9",
		Message:   "model overloaded",
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		msg, ok := svc.history.Get("r1")
		if ok && msg.Status == StatusFailed {
			if msg.Reason != "model overloaded" {
				t.Fatalf("expected server reason on the entry, got %q", msg.Reason)
			}

			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for streaming reply to be marked failed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
