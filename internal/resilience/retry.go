// Package resilience provides retry and circuit breaker patterns for calls to
// the model providers and the search backend.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// BackoffFunc returns the delay before retry number attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

// RetryConfig controls retry behavior.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first try.
	// Zero or negative retries until success or context cancellation.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps any single delay. Default: 60s.
	MaxBackoff time.Duration

	// Backoff overrides the schedule. Default: RandomExponential over
	// InitialBackoff and MaxBackoff.
	Backoff BackoffFunc

	// ShouldRetry decides whether an error is retried. If nil, IsTransient
	// is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with the attempt number.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig retries transient errors indefinitely with a random
// exponential wait between 0 and min(60s, 1s * 2^attempt).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		Backoff:        RandomExponential(time.Second, 60*time.Second),
	}
}

// RandomExponential draws each wait uniformly from [0, min(max, base*2^attempt)].
func RandomExponential(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		ceiling := float64(base) * math.Pow(2, float64(attempt))
		if ceiling > float64(max) || math.IsInf(ceiling, 1) {
			ceiling = float64(max)
		}
		if ceiling <= 0 {
			return 0
		}
		return time.Duration(rand.Float64() * ceiling)
	}
}

// NoBackoff retries immediately. Intended for tests.
func NoBackoff(int) time.Duration { return 0 }

// DoVal executes fn and returns its value, retrying errors accepted by
// ShouldRetry. Context cancellation stops retries immediately.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}

	var zero T
	for attempt := 0; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}

		if ctx.Err() != nil || !shouldRetry(err) {
			return zero, err
		}
		if cfg.MaxAttempts > 0 && attempt >= cfg.MaxAttempts-1 {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = RandomExponential(cfg.InitialBackoff, cfg.MaxBackoff)
	}
	return cfg
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
