package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock backs heat-weight decay and geocoded_at stamps. Tests freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time of the package clock, truncated to seconds
// because stored timestamps carry no sub-second part.
func Now() time.Time {
	return clock.Now().UTC().Truncate(time.Second)
}
