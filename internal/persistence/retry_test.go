package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRetryHelper(retries int) (*RetryHelper, *[]time.Duration) {
	var waits []time.Duration
	rh := NewRetryHelper(RetryConfig{
		MaxRetries:    retries,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      25 * time.Millisecond,
		BackoffFactor: 2,
	})
	rh.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return rh, &waits
}

func TestRetryHelperRetriesLockedErrors(t *testing.T) {
	t.Parallel()

	rh, waits := newTestRetryHelper(3)
	calls := 0
	err := rh.WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("insert booking: %w", ErrLocked)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestRetryHelperCapsDelayAndGivesUp(t *testing.T) {
	t.Parallel()

	rh, waits := newTestRetryHelper(3)
	calls := 0
	err := rh.WithRetry(context.Background(), func() error {
		calls++
		return ErrLocked
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, *waits)
}

func TestRetryHelperStopsOnPermanentErrors(t *testing.T) {
	t.Parallel()

	rh, waits := newTestRetryHelper(3)
	calls := 0
	err := rh.WithRetry(context.Background(), func() error {
		calls++
		return ErrDuplicate
	})

	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestRetryHelperHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rh := NewRetryHelper(DefaultRetryConfig())
	err := rh.WithRetry(ctx, func() error { return ErrLocked })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBookingStatusBlocks(t *testing.T) {
	t.Parallel()

	assert.True(t, BookingAccepted.Blocks())
	assert.False(t, BookingCancelled.Blocks())
	assert.False(t, BookingRejected.Blocks())
}
