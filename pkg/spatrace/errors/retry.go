package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures delivery retries.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides IsRetryable.
	RetryableFunc func(error) bool
}

// DefaultRetry is used by the harvester unless configured otherwise.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRetry disables retries.
var NoRetry = RetryConfig{
	MaxAttempts: 1,
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. It returns the number of attempts made.
// A failing result is always a *CategorizedError.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) (int, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, &CategorizedError{Err: err, Category: CategoryPermanent, Attempts: attempt - 1, Context: "context cancelled"}
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !retryable(err) {
			return attempt, &CategorizedError{Err: err, Category: Categorize(err), Attempts: attempt}
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Attempts: attempt, Context: "context cancelled during backoff"}
		case <-time.After(withJitter(backoff, cfg.Jitter)):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return cfg.MaxAttempts, &CategorizedError{
		Err:      lastErr,
		Category: Categorize(lastErr),
		Attempts: cfg.MaxAttempts,
		Context:  "max retries exceeded",
	}
}

// withJitter returns base +/- (base * jitter * random).
func withJitter(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	delta := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + delta)
}
