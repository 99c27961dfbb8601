package chat

import (
	"sync"
	"time"
)

// slidingWindow counts events in a trailing window.
type slidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func newSlidingWindow(limit int, window time.Duration) *slidingWindow {
	return &slidingWindow{limit: limit, window: window}
}

// allow records an event at now if the window still has room. A limit of
// zero or less disables the limiter.
func (w *slidingWindow) allow(now time.Time) bool {
	if w.limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	kept := w.stamps[:0]
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.stamps = kept

	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)

	return true
}
