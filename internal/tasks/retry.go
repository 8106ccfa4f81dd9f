package tasks

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/metrics"
	"github.com/desertthunder/replay/internal/shared"
)

// DefaultMaxAttempts is the number of times a user is processed before the failure is recorded.
const DefaultMaxAttempts = 3

// RetryPolicy re-runs an operation immediately until it succeeds, returns a
// non-retryable error, or runs out of attempts.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(error) bool
}

// DefaultRetryPolicy makes three attempts and retries everything except
// validation failures and context cancellation.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Retryable: IsRetryable}
}

// IsRetryable reports whether err is worth another immediate attempt.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, shared.ErrValidation):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// Do runs op until it succeeds or the policy gives up, returning the last error.
func (p RetryPolicy) Do(ctx context.Context, logger *log.Logger, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == attempts {
			return err
		}

		metrics.UserRetries.Inc()
		if logger != nil {
			logger.Warn("retrying", "attempt", attempt, "retries_left", attempts-attempt, "error", err)
		}
	}
	return err
}
