// Package internal holds helpers shared by the conformance packages.
package internal

import (
	"sync"
	"time"
)

// Clock supplies the current time so stats windows and run timing can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now, which carries a monotonic reading.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock only moves when told to. It is safe for concurrent use, since
// interceptor writers and test assertions read it from different goroutines.
type ManualClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewManualClock returns a clock reading t, or a fixed epoch if t is zero.
func NewManualClock(t time.Time) *ManualClock {
	if t.IsZero() {
		t = time.Unix(1_000_000_000, 0)
	}
	return &ManualClock{current: t}
}

// Now implements Clock.
func (m *ManualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward by d. Negative durations panic.
func (m *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		panic("ManualClock.Advance: negative duration")
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.mu.Unlock()
}
