package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the exponential backoff applied to transient write
// failures (spec.md §7: WriteTimeout -> 100ms * 2^k, cap 30s, max 6
// attempts). Modelled as a pure description of the policy rather than
// embedding sleep/retry logic at every call site (spec.md §9).
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultRetryPolicy matches spec.md §7 literally.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     6,
	}
}

// withRetry runs op, retrying with exponential backoff while the error is
// store.Transient, up to policy.MaxAttempts total attempts. A permanent
// error (WriteRejected and friends) or a context cancellation aborts
// immediately without exhausting the budget.
func withRetry(ctx context.Context, policy RetryPolicy, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0

	attempts := 0
	maxRetries := uint64(0)
	if policy.MaxAttempts > 1 {
		maxRetries = uint64(policy.MaxAttempts - 1)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	return backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		if attempts >= policy.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// chunk splits rows into groups of at most size, preserving order. Used
// to bound write-request size (spec.md §4.2 write_batch_size).
func chunk(rows []RowOp, size int) [][]RowOp {
	if size <= 0 {
		return [][]RowOp{rows}
	}
	var out [][]RowOp
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}
