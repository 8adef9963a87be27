// Package rawstore implements the Raw Store adapter (C1): read-only,
// height-ranged access to the immutable raw keyspace (spec.md §4.1).
package rawstore

import (
	"context"
	"fmt"

	"graphsense.dev/deltaupdater/internal/model"
)

// Store is the Raw Store adapter contract. FetchRange must return
// bundles in strict height-ascending order and fail with GapError if any
// height in [start, end] is absent. Tip returns the highest contiguous
// raw height.
type Store interface {
	FetchRange(ctx context.Context, start, end int64) ([]model.BlockBundle, error)
	Tip(ctx context.Context) (int64, error)
	GetRates(ctx context.Context, from, to int64) (map[int64][]float32, error)

	// LatestRateAtOrBefore returns the most recent rate row at or before
	// height, for forward-fill across a batch's left edge (spec.md §4.4).
	LatestRateAtOrBefore(ctx context.Context, height int64) (rates []float32, ok bool, err error)
}

// TipWithMargin returns tip() - margin, floored at -1 (meaning "nothing
// final yet"), matching spec.md §4.1.
func TipWithMargin(ctx context.Context, s Store, margin int64) (int64, error) {
	tip, err := s.Tip(ctx)
	if err != nil {
		return 0, err
	}
	t := tip - margin
	if t < -1 {
		t = -1
	}
	return t, nil
}

// GapError reports a missing expected height; fatal (spec.md §4.1, §7
// GapInRaw).
type GapError struct {
	Height int64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("rawstore: missing block at height %d", e.Height)
}

// CorruptError reports a raw-schema mismatch; fatal.
type CorruptError struct {
	Height int64
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("rawstore: corrupt record at height %d: %s", e.Height, e.Reason)
}

// UnavailableError reports a transient fetch failure; the caller's retry
// policy applies.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return fmt.Sprintf("rawstore: unavailable: %v", e.Err) }
func (e *UnavailableError) Unwrap() error { return e.Err }
