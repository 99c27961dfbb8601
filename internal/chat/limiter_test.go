package chat

import (
	"testing"
	"time"
)

func TestSlidingWindow_Allow_EnforcesLimit(t *testing.T) {
	base := time.Now()
	lim := newSlidingWindow(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !lim.allow(base) {
			t.Fatalf("expected send %d to pass", i+1)
		}
	}
	if lim.allow(base) {
		t.Fatal("expected fourth send inside the window to be rejected")
	}

	// The window has slid past the original burst.
	if !lim.allow(base.Add(time.Minute + time.Second)) {
		t.Fatal("expected send after the window to pass")
	}
}

func TestSlidingWindow_Allow_ZeroLimitDisables(t *testing.T) {
	lim := newSlidingWindow(0, time.Minute)
	now := time.Now()

	for i := 0; i < 50; i++ {
		if !lim.allow(now) {
			t.Fatalf("expected unlimited sends, rejected at %d", i+1)
		}
	}
}
