// Package retry runs operations with exponential backoff, retrying only
// errors that look recoverable.
package retry

import (
	"context"
	"math"
	"time"
)

type config struct {
	maxRetries int
	baseWait   time.Duration
}

// Option customizes a call to Do.
type Option func(*config)

// WithMaxRetries sets how many times the operation is retried after the
// first attempt.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithBaseWait sets the wait before the first retry. Subsequent waits double.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) {
		c.baseWait = d
	}
}

// Do runs fn, retrying recoverable errors with exponential backoff. It
// returns the last error once retries are exhausted, or immediately when the
// error is not recoverable or the context ends.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	c := &config{
		maxRetries: 3,
		baseWait:   time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.baseWait * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRecoverable(err) {
			return err
		}
	}
	return lastErr
}
