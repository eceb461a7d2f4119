package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/forgeline/pkg/config"
)

func fastPolicy(attempts int) BackoffPolicy {
	return NewBackoffPolicy(&config.BackoffConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: attempts,
	})
}

func TestRetrySucceedsWithinBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Retry(context.Background(), func() error {
		calls++
		return errors.New("always")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	err := fastPolicy(5).Retry(context.Background(), func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewBackoffPolicy(&config.BackoffConfig{
		BaseDelay:   time.Hour, // would stall forever without cancellation
		MaxDelay:    time.Hour,
		MaxAttempts: 5,
	}).Retry(ctx, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSingleAttemptPolicy(t *testing.T) {
	calls := 0
	err := fastPolicy(1).Retry(context.Background(), func() error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
