package utils

import (
	"time"

	"github.com/coder/quartz"
)

// Timer measures the wall time of one operation. It reads a quartz clock so
// durations can be driven by a mock clock in tests.
type Timer struct {
	clock   quartz.Clock
	start   time.Time
	elapsed time.Duration
}

// NewTimer starts a timer on clock. A nil clock uses the real one.
func NewTimer(clock quartz.Clock) *Timer {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Timer{clock: clock, start: clock.Now()}
}

// Stop captures and returns the time elapsed since NewTimer.
func (t *Timer) Stop() time.Duration {
	t.elapsed = t.clock.Since(t.start)
	return t.elapsed
}

// Elapsed returns the duration captured by the last Stop, or zero.
func (t *Timer) Elapsed() time.Duration {
	return t.elapsed
}
