// Package clock supplies the time source behind code and token expiry.
// Every expiry judgement and sweeper tick goes through a Clock so tests
// can advance time without sleeping.
package clock

import "time"

// Clock is the time source consulted when deciding whether a code or
// token has lapsed and when scheduling the next sweep.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the wall clock used outside of tests.
type Real struct{}

// Now returns the current wall-clock time in UTC. All stored timestamps
// are UTC so expiry comparisons never cross zones.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After delivers on the channel once d has elapsed; the sweeper loop
// blocks on it between passes.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep blocks the caller for at least d.
func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
