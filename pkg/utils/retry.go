package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryFunc represents a function that can be retried
type RetryFunc func() error

// Permanent wraps err so Retry gives up immediately
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}

// Retry executes a function with retry logic, waiting delay between attempts.
// It stops early when ctx is done or the operation returns a Permanent error.
func Retry(ctx context.Context, operation RetryFunc, maxRetries int, delay time.Duration, description string, logger *Logger) (int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxRetries)),
		ctx,
	)

	attempts := 0
	var lastError error
	op := func() error {
		attempts++
		err := operation()
		if err != nil {
			lastError = err
			if IsPermanent(err) {
				logger.Debug("Not retrying %s: %v", description, err)
			}
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("Attempt %d failed for %s: %v", attempts, description, err)
		logger.Info("Retry attempt %d/%d for %s (waiting %v)", attempts, maxRetries, description, wait)
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		if attempts > 1 {
			logger.Info("Succeeded on attempt %d for %s", attempts, description)
		} else {
			logger.Debug("Succeeded on first attempt for %s", description)
		}
		return attempts, nil
	case IsPermanent(lastError):
		// RetryNotify already unwrapped the permanent marker
		return attempts, err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return attempts, fmt.Errorf("%s: %w", description, err)
	}

	logger.Error("Failed after %d attempts for %s: %v", attempts, description, err)
	return attempts, fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
