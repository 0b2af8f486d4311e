package bluetooth

import "time"

// Clock supplies the controller's only time source. Production code uses
// SystemClock; tests drive timers deterministically with a manual clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock Clock used outside tests.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
