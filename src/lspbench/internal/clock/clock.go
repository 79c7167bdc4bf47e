// Package clock abstracts time measurement so benchmark timings can be
// controlled in tests.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Clock is an interface that abstracts the functionality for measuring time.
type Clock interface {
	// Now returns the current time. Durations derived from it use the
	// monotonic reading.
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
	// Sleep pauses the current goroutine for at least the duration d.
	Sleep(duration time.Duration)
}

type clock struct{}

// New creates a new instance of Clock.
func New() Clock {
	return clock{}
}

func (clock) Now() time.Time { return time.Now() }

func (clock) Since(t time.Time) time.Duration { return time.Since(t) }

func (clock) Sleep(duration time.Duration) { time.Sleep(duration) }
