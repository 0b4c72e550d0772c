package stage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/logger"
)

// RetryPolicy bounds how long a stage keeps trying a transport call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

// DefaultRetryPolicy allows three attempts of one minute each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Timeout:         60 * time.Second,
	}
}

// retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. Only errors inference.IsRetryable accepts are retried.
func retry[T any](ctx context.Context, p RetryPolicy, stage string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	attempt := 0
	op := func() (T, error) {
		attempt++
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		defer cancel()

		start := time.Now()
		out, err := fn(actx)
		if err == nil {
			return out, nil
		}

		entry := logger.With(logger.Fields{
			logger.FieldStage:   stage,
			logger.FieldAttempt: attempt,
		}).WithDuration(start)

		var failure *Failure
		if ctx.Err() != nil || errors.As(err, &failure) || !inference.IsRetryable(err) {
			entry.Warn(ctx, "Stage call failed permanently: %v", err)
			return out, backoff.Permanent(err)
		}
		entry.Warn(ctx, "Stage call failed, will retry: %v", err)
		return out, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	)
}

// caller bundles what every model-backed adapter needs.
type caller struct {
	stage string
	llm   inference.Completer
	model string
	retry RetryPolicy
}

// complete sends req and returns the raw text, or a transport/malformed Failure.
func (c caller) complete(ctx context.Context, req inference.Request) (string, error) {
	req.Model = c.model
	text, err := retry(ctx, c.retry, c.stage, func(ctx context.Context) (string, error) {
		return c.llm.Complete(ctx, req)
	})
	if err != nil {
		return "", AsFailure(c.stage, err)
	}
	return text, nil
}
