package prompt

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrency is the default process-wide ceiling on in-flight
// model calls.
const DefaultMaxConcurrency = 100

// Limiter bounds in-flight model calls and optionally their start rate.
// One Limiter is shared by every Client in the process.
type Limiter struct {
	sem  *semaphore.Weighted
	rate *rate.Limiter
}

// NewLimiter creates a limiter admitting at most maxConcurrent calls. A
// positive requestsPerMinute also paces call starts.
func NewLimiter(maxConcurrent, requestsPerMinute int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrency
	}
	l := &Limiter{sem: semaphore.NewWeighted(int64(maxConcurrent))}
	if requestsPerMinute > 0 {
		burst := max(1, requestsPerMinute/60)
		l.rate = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), burst)
	}
	return l
}

// Acquire blocks until a slot is free. The returned func releases it.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "prompt: rate limit wait")
		}
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "prompt: acquire slot")
	}
	return func() { l.sem.Release(1) }, nil
}
