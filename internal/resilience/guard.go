package resilience

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/config"
)

// Guard combines a retry policy with a breaker. Every attempt passes
// through the breaker, so an open breaker ends the retry loop early.
type Guard struct {
	Retry   RetryPolicy
	Breaker *Breaker
}

// NewGuard builds a Guard from the compute section of the configuration.
func NewGuard(cfg config.ComputeConfig) *Guard {
	r := DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		r.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoffMs > 0 {
		r.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond
	}
	if cfg.Retry.MaxBackoffMs > 0 {
		r.MaxBackoff = time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Retry.Multiplier > 0 {
		r.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Retry.JitterFraction >= 0 {
		r.JitterFraction = cfg.Retry.JitterFraction
	}

	return &Guard{
		Retry: r,
		Breaker: NewBreaker(BreakerPolicy{
			FailureThreshold: cfg.Circuit.FailureThreshold,
			Cooldown:         time.Duration(cfg.Circuit.ResetTimeoutSecs) * time.Second,
			OnStateChange: func(from, to BreakerState) {
				zap.L().Warn("compute breaker state changed",
					zap.String("component", "compute"),
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		}),
	}
}

// Call runs fn under g. A nil Guard runs fn once.
func Call[T any](ctx context.Context, g *Guard, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}

	p := g.Retry
	if p.OnRetry == nil {
		p.OnRetry = LogRetries(operation)
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	p.Retryable = func(err error) bool {
		return !errors.Is(err, ErrBreakerOpen) && retryable(err)
	}

	return Retry(ctx, p, func(ctx context.Context) (T, error) {
		var zero T
		if g.Breaker != nil {
			if err := g.Breaker.allow(); err != nil {
				return zero, err
			}
		}
		val, err := fn(ctx)
		if g.Breaker != nil {
			g.Breaker.record(err)
		}
		return val, err
	})
}
