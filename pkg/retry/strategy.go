package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/code-payments/code-auction/pkg/retry/backoff"
)

// Strategy decides whether a failed action gets another attempt. attempts
// counts the attempts made so far, starting at 1. A strategy may block.
type Strategy func(attempts uint, err error) bool

// sleep is swapped out by tests
var sleep = time.Sleep

// Limit caps the total number of attempts, including the first.
func Limit(maxAttempts uint) Strategy {
	return func(attempts uint, _ error) bool {
		return attempts < maxAttempts
	}
}

// RetriableIf retries only errors accepted by the classifier.
func RetriableIf(classifier func(err error) bool) Strategy {
	return func(_ uint, err error) bool {
		return classifier(err)
	}
}

// Context stops retrying once ctx is done.
func Context(ctx context.Context) Strategy {
	return func(uint, error) bool {
		return ctx.Err() == nil
	}
}

// Backoff sleeps for the strategy's delay, capped at maxBackoff, before the
// next attempt.
func Backoff(strategy backoff.Strategy, maxBackoff time.Duration) Strategy {
	return func(attempts uint, _ error) bool {
		sleep(capDelay(strategy(attempts), maxBackoff))
		return true
	}
}

// BackoffWithJitter is Backoff with the capped delay randomly stretched or
// shrunk by up to the jitter fraction, so 0.1 turns 100ms into 90ms-110ms.
func BackoffWithJitter(strategy backoff.Strategy, maxBackoff time.Duration, jitter float64) Strategy {
	return func(attempts uint, _ error) bool {
		delay := float64(capDelay(strategy(attempts), maxBackoff))
		sleep(time.Duration(delay + delay*jitter*(2*rand.Float64()-1)))
		return true
	}
}

func capDelay(delay, limit time.Duration) time.Duration {
	if delay > limit {
		return limit
	}
	return delay
}
