// Package retry provides the bounded retry loop shared by the blob import
// path and the viewer readiness poll.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errInvalidAttempts = errors.New("retry: max attempts must be positive")

// Config bounds a retry loop: a hard attempt budget and a fixed pause
// between attempts.
type Config struct {
	MaxAttempts uint64
	Interval    time.Duration
}

// Abort wraps an error so Do stops immediately instead of burning the
// remaining attempt budget.
func Abort(err error) error {
	return backoff.Permanent(err)
}

// Do runs operation until it succeeds, the attempt budget is exhausted, the
// context is cancelled, or the operation aborts. The last operation error is
// returned when the budget runs out.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	if cfg.MaxAttempts == 0 {
		return errInvalidAttempts
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Interval), cfg.MaxAttempts-1),
		ctx,
	)
	return backoff.Retry(operation, policy)
}
