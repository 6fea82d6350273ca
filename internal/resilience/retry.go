// Package resilience provides the retry, circuit-breaker, and bulkhead
// primitives wrapped around the gateway's dependencies (vault, cache,
// backend) so saturation or failure of one never cascades into the
// others.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/authrelay/authrelay/internal/errors"
)

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	// MaxAttempts including the first try. Defaults to 3.
	MaxAttempts int

	// InitialInterval is the first backoff. Defaults to 500ms.
	InitialInterval time.Duration

	// Multiplier grows the interval. Defaults to 1.5.
	Multiplier float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 1.5
	}
	return c
}

// Retry runs op with exponential backoff and jitter. Errors the
// taxonomy marks non-retryable (authentication, validation, conflicts)
// stop the loop immediately; context cancellation stops it between
// attempts.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	cfg = cfg.withDefaults()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = 0.2

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !apperrors.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(cfg.MaxAttempts-1)), ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
