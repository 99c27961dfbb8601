package chat

import "testing"

func TestHistory_Append_EvictsOldestBeyondLimit(t *testing.T) {
	h := NewHistory(3)

	for _, body := range []string{"m1", "m2", "m3", "m4", "m5"} {
		h.Append(Message{Direction: DirectionSent, Body: body})
	}

	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after eviction, got %d", len(msgs))
	}
	if msgs[0].Body != "m3" || msgs[2].Body != "m5" {
		t.Fatalf("expected [m3 m4 m5], got [%s %s %s]", msgs[0].Body, msgs[1].Body, msgs[2].Body)
	}
}

func TestHistory_AppendChunk_AssemblesStreamingReply(t *testing.T) {
	h := NewHistory(10)

	h.AppendChunk("r1", "assistant", "He")
	h.AppendChunk("r1", "assistant", "llo")

	msg, ok := h.Get("r1")
	if !ok {
		t.Fatal("expected streaming entry to exist")
	}
	if msg.Body != "Hello" {
		t.Fatalf("expected body %q, got %q", "Hello", msg.Body)
	}
	if msg.Status != StatusStreaming {
		t.Fatalf("expected streaming status, got %v", msg.Status)
	}

	if !h.UpdateStatus("r1", StatusComplete, "") {
		t.Fatal("expected update to find the entry")
	}
	msg, _ = h.Get("r1")
	if msg.Status != StatusComplete {
		t.Fatalf("expected complete status, got %v", msg.Status)
	}
}

func TestHistory_FailNewestStreaming_PicksNewestEntry(t *testing.T) {
	h := NewHistory(10)

	h.AppendChunk("r1", "assistant", "old")
	h.AppendChunk("r2", "assistant", "new")

	if !h.FailNewestStreaming("model overloaded") {
		t.Fatal("expected a streaming entry to be marked failed")
	}

	newest, _ := h.Get("r2")
	if newest.Status != StatusFailed || newest.Reason != "model overloaded" {
		t.Fatalf("expected r2 failed with reason, got %v %q", newest.Status, newest.Reason)
	}
	oldest, _ := h.Get("r1")
	if oldest.Status != StatusStreaming {
		t.Fatalf("expected r1 untouched, got %v", oldest.Status)
	}
}

func TestHistory_FailNewestStreaming_NoStreamingEntry(t *testing.T) {
	h := NewHistory(10)
	h.Append(Message{ID: "s1", Direction: DirectionSent, Body: "hi", Status: StatusSent})

	if h.FailNewestStreaming("boom") {
		t.Fatal("expected no streaming entry to be found")
	}
}

func TestHistory_UpdateStatus_UnknownID(t *testing.T) {
	h := NewHistory(10)

	if h.UpdateStatus("ghost", StatusComplete, "") {
		t.Fatal("expected update of an unknown id to report false")
	}
}

func TestHistory_Changes_CoalescesSignals(t *testing.T) {
	h := NewHistory(10)

	h.Append(Message{Body: "m1"})
	h.Append(Message{Body: "m2"})
	h.Append(Message{Body: "m3"})

	select {
	case <-h.Changes():
	default:
		t.Fatal("expected a pending change signal")
	}
	select {
	case <-h.Changes():
		t.Fatal("expected signals to coalesce into one")
	default:
	}
}
