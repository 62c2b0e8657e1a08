package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mineguard/internal/config"
)

func TestNewGuard_FromConfig(t *testing.T) {
	g := NewGuard(config.ComputeConfig{
		Retry: config.RetryConfig{
			MaxAttempts:      4,
			InitialBackoffMs: 100,
			MaxBackoffMs:     2000,
			Multiplier:       3,
			JitterFraction:   0.1,
		},
		Circuit: config.CircuitConfig{FailureThreshold: 7, ResetTimeoutSecs: 60},
	})

	assert.Equal(t, 4, g.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, g.Retry.InitialBackoff)
	assert.Equal(t, 2*time.Second, g.Retry.MaxBackoff)
	assert.InDelta(t, 3.0, g.Retry.Multiplier, 1e-9)
	assert.InDelta(t, 0.1, g.Retry.JitterFraction, 1e-9)
	require.NotNil(t, g.Breaker)
	assert.Equal(t, 7, g.Breaker.policy.FailureThreshold)
	assert.Equal(t, time.Minute, g.Breaker.policy.Cooldown)
}

func TestNewGuard_Defaults(t *testing.T) {
	g := NewGuard(config.ComputeConfig{})

	assert.Equal(t, DefaultRetryPolicy().MaxAttempts, g.Retry.MaxAttempts)
	assert.Equal(t, 5, g.Breaker.policy.FailureThreshold)
	assert.Equal(t, Closed, g.Breaker.State())
}

func TestCall_NilGuardRunsOnce(t *testing.T) {
	calls := 0
	_, err := Call(context.Background(), nil, "reduce", func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func fastTestGuard(attempts, threshold int) *Guard {
	return &Guard{
		Retry: RetryPolicy{
			MaxAttempts:    attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
		Breaker: NewBreaker(BreakerPolicy{FailureThreshold: threshold, Cooldown: time.Hour}),
	}
}

func TestCall_RetriesTransientFailures(t *testing.T) {
	g := fastTestGuard(3, 10)

	calls := 0
	v, err := Call(context.Background(), g, "reduce", func(context.Context) (float64, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("service unavailable"), 503)
		}
		return 42.5, nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 42.5, v, 1e-9)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, g.Breaker.Failures())
}

func TestCall_PermanentErrorIsNotRetried(t *testing.T) {
	g := fastTestGuard(5, 10)

	calls := 0
	_, err := Call(context.Background(), g, "sample", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("unknown band")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Closed, g.Breaker.State())
}

func TestCall_OpenBreakerEndsRetries(t *testing.T) {
	g := fastTestGuard(5, 2)

	calls := 0
	_, err := Call(context.Background(), g, "reduce", func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("bad gateway"), 502)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, Open, g.Breaker.State())

	// Later calls are rejected without reaching the service.
	_, err = Call(context.Background(), g, "reduce", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 2, calls)
}
