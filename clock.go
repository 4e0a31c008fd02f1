package bigeyesrc

import "time"

// Clock is the hosting pipeline's running clock.
//
// Now returns the current clock time and false when the clock is not
// available (no clock selected yet); buffers are then left without PTS.
type Clock interface {
	Now() (time.Duration, bool)
}

// ClockFunc adapts a function to Clock
type ClockFunc func() (time.Duration, bool)

// Now calls f
func (f ClockFunc) Now() (time.Duration, bool) {
	return f()
}

type systemClock struct {
	epoch time.Time
}

// NewSystemClock returns a monotonic clock counting from its creation.
// Hosts without a pipeline clock pair it with base time 0.
func NewSystemClock() Clock {
	return &systemClock{epoch: time.Now()}
}

func (c *systemClock) Now() (time.Duration, bool) {
	return time.Since(c.epoch), true
}
