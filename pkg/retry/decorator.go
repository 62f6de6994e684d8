package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Retrier handles retry logic
type Retrier struct {
	policy  Policy
	backoff *Backoff
	sleep   Sleeper
	logger  *zap.Logger
}

// Option customizes a Retrier
type Option func(*Retrier)

// WithSleeper replaces the wall-clock sleeper, mostly for tests
func WithSleeper(s Sleeper) Option {
	return func(r *Retrier) {
		r.sleep = s
	}
}

// NewRetrier creates a new retrier
func NewRetrier(policy Policy, logger *zap.Logger, opts ...Option) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Retrier{
		policy:  policy,
		backoff: NewBackoff(policy),
		sleep:   contextSleep,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy this retrier was built with
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do executes a function with retry logic
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	_, err := DoWithValue(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

// DoWithValue executes an operation returning a value with retry logic.
// After the final failed attempt the returned error wraps both ErrMaxRetriesExceeded and the last failure.
func DoWithValue[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retries",
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", r.policy.MaxAttempts))
			}
			return result, nil
		}
		lastErr = err

		if !r.isRetryable(err) {
			r.logger.Debug("Error is not retryable",
				zap.Error(err),
				zap.Int("attempt", attempt))
			return zero, err
		}

		if attempt >= r.policy.MaxAttempts {
			break
		}

		backoffDuration := r.backoff.Calculate(attempt)
		r.logger.Debug("Retrying operation",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Duration("backoff", backoffDuration))

		if err := r.sleep(ctx, backoffDuration); err != nil {
			return zero, err
		}
	}

	r.logger.Warn("Max retries exceeded",
		zap.Error(lastErr),
		zap.Int("attempts", r.policy.MaxAttempts))
	return zero, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) isRetryable(err error) bool {
	if r.policy.RetryableFunc != nil {
		return r.policy.RetryableFunc(err)
	}
	return true
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Decorate wraps a value-returning function with retry logic
func Decorate[T any](r *Retrier, fn func(ctx context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return DoWithValue(ctx, r, fn)
	}
}
