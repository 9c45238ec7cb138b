package shared

import "time"

// Clock abstracts time so background loops can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// After waits for the duration to elapse
func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
