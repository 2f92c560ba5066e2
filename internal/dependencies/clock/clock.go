package clock

import (
	"github.com/jonboulle/clockwork"
)

// Clock provides time operations that can be faked in tests.
// clockwork.NewFakeClock() satisfies it.
type Clock = clockwork.Clock

// New creates a clock backed by the system time
func New() Clock {
	return clockwork.NewRealClock()
}
