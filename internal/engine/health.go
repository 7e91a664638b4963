package engine

import (
	"sync"
	"time"
)

// DefaultFailureWindow is how long a communication failure keeps the
// gateway reported as degraded.
const DefaultFailureWindow = 5 * time.Minute

// FailureTracker turns the cumulative Stats.Sequencer.Failures counter into
// a "failed recently" signal for health reporting. It is safe for
// concurrent use.
type FailureTracker struct {
	mu     sync.Mutex
	window time.Duration
	last   uint64
	at     time.Time
	now    func() time.Time
}

// NewFailureTracker creates a tracker. A window of zero or less selects
// DefaultFailureWindow.
func NewFailureTracker(window time.Duration) *FailureTracker {
	if window <= 0 {
		window = DefaultFailureWindow
	}
	return &FailureTracker{window: window, now: time.Now}
}

// SetClock replaces the tracker's time source.
func (f *FailureTracker) SetClock(now func() time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Observe records the current failure count and reports whether the count
// rose within the window.
func (f *FailureTracker) Observe(failures uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if failures > f.last {
		f.last = failures
		f.at = now
	}
	return !f.at.IsZero() && now.Sub(f.at) < f.window
}
