package transponder

import (
	"math"
	"time"
)

// DelayFunc returns how long to wait after the given failed attempt (zero based)
// before the next delivery attempt.
type DelayFunc func(attempt int) time.Duration

// Fixed waits the same delay after every attempt. It is the dispatcher default.
func Fixed(delay time.Duration) DelayFunc {
	return func(int) time.Duration {
		return delay
	}
}

// Exponential doubles the delay after each attempt, starting at delay and capped
// at maxDelay. With 200ms and 1h the sequence is 200ms, 400ms, 800ms, ... and
// reaches the cap after attempt 15.
func Exponential(delay time.Duration, maxDelay time.Duration) DelayFunc {
	if delay <= 0 {
		return Fixed(0)
	}

	// shifting past this would overflow int64 nanoseconds
	var shiftLimit uint
	if bits := math.Floor(math.Log2(float64(delay))); bits < 62 {
		shiftLimit = 62 - uint(bits)
	}

	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return min(delay, maxDelay)
		}

		// nolint:gosec
		shift := min(uint(attempt), shiftLimit)
		return min(delay<<shift, maxDelay)
	}
}
