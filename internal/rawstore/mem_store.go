package rawstore

import (
	"context"
	"sort"

	"graphsense.dev/deltaupdater/internal/model"
)

// MemStore is an in-memory Store used by tests and by local fixture
// replay; it enforces the same height-contiguity contract as a durable
// backend so tests exercise the real GapError path.
type MemStore struct {
	bundles map[int64]model.BlockBundle
	rates   map[int64][]float32
}

func NewMemStore() *MemStore {
	return &MemStore{bundles: make(map[int64]model.BlockBundle), rates: make(map[int64][]float32)}
}

func (m *MemStore) PutBundle(b model.BlockBundle) { m.bundles[b.Block.Height] = b }
func (m *MemStore) PutRate(height int64, rates []float32) { m.rates[height] = rates }

func (m *MemStore) FetchRange(_ context.Context, start, end int64) ([]model.BlockBundle, error) {
	if end < start {
		return nil, nil
	}
	out := make([]model.BlockBundle, 0, end-start+1)
	for h := start; h <= end; h++ {
		b, ok := m.bundles[h]
		if !ok {
			return nil, &GapError{Height: h}
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *MemStore) Tip(_ context.Context) (int64, error) {
	if len(m.bundles) == 0 {
		return -1, nil
	}
	heights := make([]int64, 0, len(m.bundles))
	for h := range m.bundles {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	// contiguous-from-genesis tip: highest h such that [0,h] has no gaps.
	tip := int64(-1)
	for i, h := range heights {
		if h != int64(i) {
			break
		}
		tip = h
	}
	return tip, nil
}

func (m *MemStore) GetRates(_ context.Context, from, to int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32)
	for h := from; h <= to; h++ {
		if r, ok := m.rates[h]; ok {
			out[h] = r
		}
	}
	return out, nil
}

func (m *MemStore) LatestRateAtOrBefore(_ context.Context, height int64) ([]float32, bool, error) {
	for h := height; h >= 0; h-- {
		if r, ok := m.rates[h]; ok {
			return r, true, nil
		}
	}
	return nil, false, nil
}
