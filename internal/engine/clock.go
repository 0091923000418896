package engine

import "time"

// Clock provides a testable time source.
//
// The reducer stays deterministic by never reading a clock; the engine stamps
// timestamps onto inputs as they are posted.
type Clock interface {
	Now() time.Time
}

// RealClock is a production Clock implementation backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
