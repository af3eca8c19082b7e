package clock

import "time"

// Clock supplies current time to delivery timing.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

// Now returns current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Func adapts a plain function to Clock.
// Params: function returning the time to report.
// Returns: clock backed by fn.
type Func func() time.Time

// Now calls the wrapped function.
func (f Func) Now() time.Time {
	return f()
}

// Since returns elapsed time from start on clk.
// Params: clock and start timestamp taken from the same clock.
// Returns: elapsed duration, never negative.
func Since(clk Clock, start time.Time) time.Duration {
	elapsed := clk.Now().Sub(start)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
