package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("Delay doubles per attempt", func(t *testing.T) {
		policy := NewExponentialBackoff(30*time.Second, 30*time.Minute, 3)

		assert.Equal(t, 30*time.Second, policy.NextDelay(0))
		assert.Equal(t, 60*time.Second, policy.NextDelay(1))
		assert.Equal(t, 120*time.Second, policy.NextDelay(2))
	})

	t.Run("Delay is capped at the max interval", func(t *testing.T) {
		policy := NewExponentialBackoff(120*time.Second, 10*time.Minute, 5)

		assert.Equal(t, 10*time.Minute, policy.NextDelay(4))
		assert.Equal(t, 10*time.Minute, policy.NextDelay(10))
	})

	t.Run("Retries stop once attempts are spent", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Second, time.Minute, 3)
		err := errors.New("boom")

		for attempt := 0; attempt < 3; attempt++ {
			ok, delay := policy.ShouldRetry(attempt, err)
			assert.True(t, ok, "attempt %d should retry", attempt)
			assert.Positive(t, delay)
		}

		ok, _ := policy.ShouldRetry(3, err)
		assert.False(t, ok)
	})

	t.Run("Permanent errors are not retried", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Second, time.Minute, 3)

		ok, _ := policy.ShouldRetry(0, &PermanentError{Err: errors.New("bad payload")})
		assert.False(t, ok)
	})

	t.Run("Jitter stays within bounds", func(t *testing.T) {
		policy := NewExponentialBackoff(time.Minute, time.Hour, 3)
		policy.Jitter = true

		for i := 0; i < 50; i++ {
			d := policy.NextDelay(0)
			assert.GreaterOrEqual(t, d, 51*time.Second)
			assert.LessOrEqual(t, d, 69*time.Second)
		}
	})
}

func TestFixedDelay(t *testing.T) {
	policy := NewFixedDelay(5*time.Second, 2)

	t.Run("Delay is constant", func(t *testing.T) {
		assert.Equal(t, 5*time.Second, policy.NextDelay(0))
		assert.Equal(t, 5*time.Second, policy.NextDelay(7))
	})

	t.Run("Budget is enforced", func(t *testing.T) {
		err := errors.New("boom")
		ok, _ := policy.ShouldRetry(1, err)
		assert.True(t, ok)
		ok, _ = policy.ShouldRetry(2, err)
		assert.False(t, ok)
	})
}

func TestRetry(t *testing.T) {
	t.Run("Succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Returns last error when budget is spent", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 2), func() error {
			calls++
			return errors.New("persistent")
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "persistent")
		assert.Equal(t, 3, calls, "initial attempt plus two retries")
	})

	t.Run("Permanent errors short-circuit", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewFixedDelay(time.Millisecond, 5), func() error {
			calls++
			return &PermanentError{Err: errors.New("no retry")}
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("Context cancellation stops the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Retry(ctx, NewFixedDelay(time.Second, 5), func() error {
			return errors.New("never reached after cancel")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPermanentError(t *testing.T) {
	cause := errors.New("schema mismatch")
	err := &PermanentError{Err: cause}

	assert.Equal(t, "schema mismatch", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.IsRetryable())
}
