package paygate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryConfig defines the backoff used when acknowledging transactions to the store.
// Purchases and product lookups are never retried automatically.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig provides defaults for acknowledgment retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// RetryableError marks a store error as transient.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err, or any error it wraps, is a RetryableError.
func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}

func (c RetryConfig) delay(attempt int) time.Duration {
	d := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1)))
	if c.MaxDelay > 0 && d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// WithRetry runs operation until it succeeds, returns a non-retryable error,
// or config.MaxAttempts is reached.
func WithRetry(ctx context.Context, config RetryConfig, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(config.delay(attempt))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}
