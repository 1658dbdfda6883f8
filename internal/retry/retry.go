// Package retry provides the single bounded-retry primitive used by every
// waiting loop in the engine: network fetch attempts, archive extraction,
// file readability probes and process-exit polling all go through Do.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds one retry loop. Either MaxAttempts or Deadline (or both)
// should be set; a zero Policy performs exactly one attempt.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero means no attempt cap (Deadline must then bound the loop).
	MaxAttempts uint64

	// Interval is the fixed delay between attempts.
	Interval time.Duration

	// Deadline is the total time budget for all attempts. Zero means no
	// time bound.
	Deadline time.Duration

	// Retryable reports whether an error is worth another attempt.
	// A nil predicate treats every error as retryable.
	Retryable func(error) bool
}

// Do runs op until it succeeds, exhausts the policy, or ctx is cancelled.
// It returns nil on success and the last error otherwise.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts == 0 && p.Deadline == 0 {
		// An unbounded policy is always a caller bug; fail after one
		// attempt instead of spinning forever.
		p.MaxAttempts = 1
	}
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}

	var b backoff.BackOff = backoff.WithContext(backoff.NewConstantBackOff(p.Interval), ctx)
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts-1)
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, b)
}
