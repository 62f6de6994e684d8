package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func TestDoWithValue_SucceedsAfterTwoFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := NewRetrier(Policy{MaxAttempts: 3, DelayMin: time.Second, DelayMax: 10 * time.Second}, zap.NewNop(), WithSleeper(sleeper.sleep))

	calls := 0
	got, err := DoWithValue(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestDoWithValue_SecondDelayIsCapped(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := NewRetrier(Policy{MaxAttempts: 3, DelayMin: 2 * time.Second, DelayMax: 3 * time.Second}, zap.NewNop(), WithSleeper(sleeper.sleep))

	calls := 0
	_, err := DoWithValue(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("temporary")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, sleeper.delays)
}

func TestDoWithValue_ReturnsLastFailure(t *testing.T) {
	sleeper := &recordingSleeper{}
	r := NewRetrier(Policy{MaxAttempts: 3, DelayMin: time.Millisecond, DelayMax: time.Second}, zap.NewNop(), WithSleeper(sleeper.sleep))

	errFirst := errors.New("first")
	errLast := errors.New("last")
	calls := 0
	_, err := DoWithValue(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls == 3 {
			return 0, errLast
		}
		return 0, errFirst
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, errLast)
	assert.NotErrorIs(t, err, errFirst)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.delays, 2, "no sleep after the final attempt")
}

func TestDoWithValue_NonRetryableStopsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	errFatal := errors.New("validation")
	policy := Policy{
		MaxAttempts:   5,
		DelayMin:      time.Millisecond,
		DelayMax:      time.Second,
		RetryableFunc: func(err error) bool { return !errors.Is(err, errFatal) },
	}
	r := NewRetrier(policy, zap.NewNop(), WithSleeper(sleeper.sleep))

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFatal
	})

	assert.ErrorIs(t, err, errFatal)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestDoWithValue_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	r := NewRetrier(Policy{MaxAttempts: 3, DelayMin: time.Second, DelayMax: time.Second}, zap.NewNop(), WithSleeper(sleeper))

	calls := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("temporary")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Calculate(t *testing.T) {
	b := NewBackoff(Policy{MaxAttempts: 10, DelayMin: time.Second, DelayMax: 8 * time.Second})

	assert.Equal(t, time.Second, b.Calculate(1))
	assert.Equal(t, 2*time.Second, b.Calculate(2))
	assert.Equal(t, 4*time.Second, b.Calculate(3))
	assert.Equal(t, 8*time.Second, b.Calculate(4))
	assert.Equal(t, 8*time.Second, b.Calculate(9))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.ErrorIs(t, Policy{MaxAttempts: 0}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{MaxAttempts: 1, DelayMin: time.Second, DelayMax: time.Millisecond}.Validate(), ErrInvalidPolicy)
}
