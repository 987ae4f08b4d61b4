// Package backoff computes the delay before a retry attempt.
package backoff

import (
	"math"
	"time"
)

// Strategy maps the number of attempts made so far (starting at 1) to the
// delay before the next one.
type Strategy func(attempts uint) time.Duration

// Constant waits the same interval every time.
func Constant(interval time.Duration) Strategy {
	return func(uint) time.Duration {
		return interval
	}
}

// Exponential waits baseDelay * factor^(attempts-1), saturating at the
// largest representable duration.
func Exponential(baseDelay time.Duration, factor float64) Strategy {
	return func(attempts uint) time.Duration {
		delay := float64(baseDelay) * math.Pow(factor, float64(attempts-1))
		if delay >= math.MaxInt64 {
			return math.MaxInt64
		}
		return time.Duration(delay)
	}
}

// BinaryExponential doubles the delay after every attempt.
func BinaryExponential(baseDelay time.Duration) Strategy {
	return Exponential(baseDelay, 2)
}
