package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryExecutor_SucceedsFirstAttempt(t *testing.T) {
	executor := NewRetryExecutor(DefaultRetryConfig())

	calls := 0
	err := executor.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExecutor_RetriesTransientError(t *testing.T) {
	config := &RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	executor := NewRetryExecutor(config)

	calls := 0
	err := executor.Execute(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExecutor_DoesNotRetryPermanentError(t *testing.T) {
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	})

	calls := 0
	permanent := errors.New("invalid request payload")
	err := executor.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetryExecutor_ExhaustsRetries(t *testing.T) {
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	})

	calls := 0
	err := executor.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return errors.New("timeout waiting for response")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetryExecutor_RespectsContextCancellation(t *testing.T) {
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      time.Second,
		BackoffFactor: 1.0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := executor.Execute(ctx, func(_ context.Context) error {
		return errors.New("timeout")
	})

	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay_ExponentialGrowth(t *testing.T) {
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    5,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	})

	assert.Equal(t, time.Duration(0), executor.BackoffDelay(0))
	assert.Equal(t, 100*time.Millisecond, executor.BackoffDelay(1))
	assert.Equal(t, 200*time.Millisecond, executor.BackoffDelay(2))
	assert.Equal(t, 400*time.Millisecond, executor.BackoffDelay(3))
}

func TestBackoffDelay_CappedAtMaxDelay(t *testing.T) {
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    10,
		InitialDelay:  time.Second,
		MaxDelay:      4 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        false,
	})

	assert.Equal(t, 4*time.Second, executor.BackoffDelay(8))
}

func TestBackoffDelay_JitterStaysInRange(t *testing.T) {
	executor := NewRetryExecutor(&RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	})

	// Jittered delay is 50-100% of the calculated delay.
	for range 100 {
		delay := executor.BackoffDelay(1)
		assert.GreaterOrEqual(t, delay, 500*time.Millisecond)
		assert.LessOrEqual(t, delay, time.Second)
	}
}

func TestDefaultRetryableChecker(t *testing.T) {
	checker := &DefaultRetryableChecker{}

	testCases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"timeout", errors.New("i/o timeout"), true},
		{"deadlock", errors.New("deadlock detected"), true},
		{"temporary", errors.New("temporary failure in name resolution"), true},
		{"validation error", errors.New("invalid priority value"), false},
		{"not found", errors.New("record not found"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, checker.IsRetryable(tc.err))
		})
	}
}
