package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retries of transient store failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns three retries starting at 50ms and doubling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryHelper re-runs functions that fail with ErrLocked using exponential backoff.
type RetryHelper struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryHelper creates a retry helper.
func NewRetryHelper(config RetryConfig) *RetryHelper {
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &RetryHelper{config: config, sleep: sleepContext}
}

// WithRetry executes fn until it succeeds, fails permanently, or retries run out.
func (rh *RetryHelper) WithRetry(ctx context.Context, fn func() error) error {
	if rh == nil {
		return fn()
	}
	var lastErr error
	delay := rh.config.InitialDelay

	for attempt := 0; attempt <= rh.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := rh.sleep(ctx, delay); err != nil {
				return err
			}
			delay = time.Duration(float64(delay) * rh.config.BackoffFactor)
			if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
				delay = rh.config.MaxDelay
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("persistence: operation failed after %d retries: %w", rh.config.MaxRetries, lastErr)
}

// IsRetryable reports whether err is a transient lock failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLocked)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
