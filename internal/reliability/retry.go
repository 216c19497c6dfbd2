package reliability

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether and when failed work is attempted again.
type RetryPolicy interface {
	// ShouldRetry reports whether attempt (0-based) should be retried and
	// after what delay.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	// MaxRetries returns the maximum number of retries after the first attempt.
	MaxRetries() int
	// NextDelay computes the backoff delay for the given attempt.
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff retries with delay = base * 2^attempt, capped at
// MaxInterval, with optional jitter.
type ExponentialBackoff struct {
	Base        time.Duration
	MaxInterval time.Duration
	MaxAttempts int
	Jitter      bool
}

// NewExponentialBackoff creates an exponential policy. The observed bases in
// this domain: 30s for cost-calculation tasks, 60s for lifecycle tasks, 120s
// for alert delivery.
func NewExponentialBackoff(base, max time.Duration, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:        base,
		MaxInterval: max,
		MaxAttempts: maxRetries,
	}
}

// ShouldRetry implements RetryPolicy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts {
		return false, 0
	}
	if !isRetryable(err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// MaxRetries implements RetryPolicy.
func (e *ExponentialBackoff) MaxRetries() int {
	return e.MaxAttempts
}

// NextDelay implements RetryPolicy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.Base) * math.Pow(2, float64(attempt))
	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	if e.Jitter {
		// ±15%
		delay += (rand.Float64() - 0.5) * 0.3 * delay
	}
	return time.Duration(delay)
}

// FixedDelay retries with a constant delay.
type FixedDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

// NewFixedDelay creates a fixed-delay policy.
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxAttempts: maxRetries}
}

// ShouldRetry implements RetryPolicy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts {
		return false, 0
	}
	if !isRetryable(err) {
		return false, 0
	}
	return true, f.Delay
}

// MaxRetries implements RetryPolicy.
func (f *FixedDelay) MaxRetries() int {
	return f.MaxAttempts
}

// NextDelay implements RetryPolicy.
func (f *FixedDelay) NextDelay(attempt int) time.Duration {
	return f.Delay
}

// Retry runs fn until it succeeds, the policy gives up, or the context ends.
// Used for in-process work like alert delivery; consumed messages go through
// the broker-side scheduler instead.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		shouldRetry, delay := policy.ShouldRetry(attempt, err)
		if !shouldRetry {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PermanentError marks an error that must not consume the retry budget.
// Transient infrastructure errors and application errors are otherwise
// retried identically.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func (e *PermanentError) IsRetryable() bool { return false }

// isRetryable defaults to true; only errors that explicitly opt out via an
// IsRetryable method are treated as permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return true
}
