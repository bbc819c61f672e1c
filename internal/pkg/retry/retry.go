// Package retry runs an operation a bounded number of times with
// exponential backoff, retrying only failures the caller classifies as
// transient.
package retry

import (
	"context"
	"time"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 500 * time.Millisecond
)

// Do invokes fn up to attempts times. A failure is retried only when
// retryable(err) is true; the delay doubles after each attempt. Context
// cancellation aborts the wait and returns the context error.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
