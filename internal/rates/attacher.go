// Package rates implements the Exchange-Rate Attacher (C4): joins a
// per-block fiat vector to native monetary values, with an optional
// forward-fill across gaps (spec.md §4.4).
package rates

import (
	"context"
	"fmt"
	"sort"

	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/rawstore"
)

// RateMissingError is fatal unless forward-fill is enabled (spec.md §7).
type RateMissingError struct {
	Height int64
}

func (e *RateMissingError) Error() string {
	return fmt.Sprintf("rates: no exchange rate at or before height %d", e.Height)
}

// GapLogger is called once per forward-filled gap (spec.md §4.4
// "log once per gap").
type GapLogger func(height int64, filledFromHeight int64)

// Attacher is a pure function of the rate-table snapshot taken at batch
// start: mid-batch rate updates are never observed (spec.md §4.4, §5).
// Construct one fresh Attacher per batch via New.
type Attacher struct {
	forwardFill bool
	fiatWidth   int
	heights     []int64   // ascending, rows that exist in [from, to]
	vectors     [][]float32
	onGap       GapLogger
	loggedGap   map[int64]bool
}

// New snapshots rates for [from, to] (plus, if forward-fill is enabled,
// the single most recent rate row at or before from-1, so that a gap at
// the very start of the batch can still be filled) from the raw store.
func New(ctx context.Context, raw rawstore.Store, from, to int64, forwardFill bool, fiatWidth int, onGap GapLogger) (*Attacher, error) {
	rows, err := raw.GetRates(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("rates: snapshot [%d,%d]: %w", from, to, err)
	}
	a := &Attacher{
		forwardFill: forwardFill,
		fiatWidth:   fiatWidth,
		onGap:       onGap,
		loggedGap:   make(map[int64]bool),
	}
	for h, v := range rows {
		a.heights = append(a.heights, h)
		a.vectors = append(a.vectors, v)
	}
	sort.Slice(a.heights, func(i, j int) bool { return a.heights[i] < a.heights[j] })
	sortVectorsByHeights(a.heights, rows, &a.vectors)

	if forwardFill {
		if len(a.heights) == 0 || a.heights[0] > from {
			if r, ok, err := raw.LatestRateAtOrBefore(ctx, from-1); err != nil {
				return nil, fmt.Errorf("rates: seed forward-fill: %w", err)
			} else if ok {
				a.heights = append([]int64{from - 1}, a.heights...)
				a.vectors = append([][]float32{r}, a.vectors...)
			}
		}
	}
	return a, nil
}

func sortVectorsByHeights(heights []int64, rows map[int64][]float32, vectors *[][]float32) {
	out := make([][]float32, len(heights))
	for i, h := range heights {
		out[i] = rows[h]
	}
	*vectors = out
}

// RatesAt returns the fiat vector for height, applying strict or
// forward-fill semantics per the Attacher's mode (spec.md §4.4).
func (a *Attacher) RatesAt(height int64) ([]float32, error) {
	i := a.search(height)
	if i >= 0 && a.heights[i] == height {
		return a.vectors[i], nil
	}
	if !a.forwardFill || i < 0 {
		return nil, &RateMissingError{Height: height}
	}
	if !a.loggedGap[a.heights[i]] && a.onGap != nil {
		a.onGap(height, a.heights[i])
		a.loggedGap[a.heights[i]] = true
	}
	return a.vectors[i], nil
}

// search returns the index of the largest height <= target, or -1.
func (a *Attacher) search(target int64) int {
	lo, hi := 0, len(a.heights)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if a.heights[mid] <= target {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}

// Attach is a convenience wrapper combining RatesAt with
// model.ApplyRate for a single native amount at a given height and
// decimal precision.
func (a *Attacher) Attach(height int64, native *model.CurrencyValue, decimals int) error {
	rates, err := a.RatesAt(height)
	if err != nil {
		return err
	}
	native.Fiat = model.ApplyRate(native.Native, decimals, rates)
	return nil
}
