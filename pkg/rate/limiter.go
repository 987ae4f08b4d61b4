package rate

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Limiter throttles operations independently per key.
type Limiter interface {
	// Allow reports whether an operation for key may proceed immediately.
	Allow(key string) bool

	// Wait blocks until an operation for key may proceed, or the context is
	// done.
	Wait(ctx context.Context, key string) error
}

type localLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalLimiter returns an in memory limiter admitting perSecond operations
// per key, with bursts of up to burst operations.
func NewLocalLimiter(perSecond float64, burst int) Limiter {
	if burst < 1 {
		burst = 1
	}

	return &localLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements Limiter.Allow.
func (l *localLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait implements Limiter.Wait.
func (l *localLimiter) Wait(ctx context.Context, key string) error {
	if err := l.get(key).Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limited on %s", key)
	}
	return nil
}

func (l *localLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// NoLimiter never throttles.
type NoLimiter struct{}

// Allow implements Limiter.Allow.
func (NoLimiter) Allow(string) bool {
	return true
}

// Wait implements Limiter.Wait.
func (NoLimiter) Wait(context.Context, string) error {
	return nil
}
