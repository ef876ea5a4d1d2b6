// Package retry provides exponential backoff for transient RPC failures and
// fixed-interval polling for conditions that become true over time, such as
// a transaction receipt appearing or reaching a confirmation depth.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrPollTimeout is returned by Until when the condition never held.
var ErrPollTimeout = errors.New("poll timed out")

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries, just the initial attempt).
	MaxRetries int

	// InitialBackoff is the initial backoff duration before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (caps exponential growth).
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter adds randomness to backoff to prevent thundering herd.
	// When true, actual backoff is: backoff + rand(0, backoff)
	Jitter bool
}

// DefaultConfig returns defaults suited to JSON-RPC reads against a hosted node.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     4,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry attempt (optional, for logging/metrics).
// attempt is 1-indexed (first retry is attempt 1).
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do executes fn, retrying with exponential backoff while isRetryable
// reports the returned error as transient.
//
// Example:
//
//	pos, err := retry.Do(ctx, retry.DefaultConfig(), isTransient, nil, func() (*entity.AccountPosition, error) {
//	    return gateway.AccountPosition(ctx, account)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	result, err := fn()
	backoff := cfg.InitialBackoff
	for attempt := 1; err != nil; attempt++ {
		if !isRetryable(err) {
			return zero, err
		}
		if attempt > cfg.MaxRetries {
			return zero, fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, err)
		}

		wait := cfg.jittered(backoff)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return zero, fmt.Errorf("context cancelled while retrying: %w", sleepErr)
		}
		backoff = cfg.grow(backoff)

		result, err = fn()
	}
	return result, nil
}

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// grow returns the backoff that follows d, capped at MaxBackoff.
func (c Config) grow(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * c.BackoffFactor)
	if next > c.MaxBackoff {
		return c.MaxBackoff
	}
	return next
}

// jittered returns d plus up to d of random delay when Jitter is set.
func (c Config) jittered(d time.Duration) time.Duration {
	if !c.Jitter || d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DoVoid is like Do but for functions that don't return a value.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Until calls fn every interval until it reports done, returns an error, the
// timeout elapses, or ctx is cancelled. A zero timeout polls until ctx ends.
// On timeout the error wraps ErrPollTimeout.
func Until[T any](
	ctx context.Context,
	interval time.Duration,
	timeout time.Duration,
	fn func() (T, bool, error),
) (T, error) {
	var zero T
	if interval <= 0 {
		interval = time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, done, err := fn()
		if err != nil {
			return zero, err
		}
		if done {
			return result, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && timeout > 0 {
				return zero, fmt.Errorf("%w after %s", ErrPollTimeout, timeout)
			}
			return zero, ctx.Err()
		case <-ticker.C:
		}
	}
}
