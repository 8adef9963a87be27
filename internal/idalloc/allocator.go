// Package idalloc implements the ID Allocator (C3): dense, monotone
// address-id (and, for account ledgers, tx-id) assignment with a local
// high-water-mark counter seeded once per batch (spec.md §4.3).
package idalloc

import (
	"context"
	"fmt"

	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/store"
)

// Allocation is one (address, id) pairing returned by Allocate. IsNew is
// true when the id was freshly drawn from the local counter rather than
// found already persisted.
type Allocation struct {
	Address model.CanonicalAddress
	ID      model.AddressID
	IsNew   bool
}

// AddressAllocator owns the in-memory high-water-mark counter for one
// batch. It is the only writer of the counter (spec.md §5): construct a
// fresh one per batch via New, seeded from the store.
type AddressAllocator struct {
	st   store.Store
	next int32 // next id to hand out
}

// firstDynamicAddressID is the lowest id the counter ever hands out: ids
// below it are reserved for the sentinel addresses (model.CoinbaseAddress,
// model.NonStandardAddress), which bypass the counter entirely.
const firstDynamicAddressID = model.NonStandardAddressID + 1

// New seeds the allocator's counter from the store's persisted
// high-water mark, floored above the reserved sentinel id range.
func New(ctx context.Context, st store.Store) (*AddressAllocator, error) {
	hw, err := st.GetHighestAddressID(ctx)
	if err != nil {
		return nil, fmt.Errorf("idalloc: read high-water mark: %w", err)
	}
	next := int32(hw) + 1
	if next < int32(firstDynamicAddressID) {
		next = int32(firstDynamicAddressID)
	}
	return &AddressAllocator{st: st, next: next}, nil
}

// reservedSentinelID returns the fixed, reserved id for a sentinel
// address and true, or (0, false) for an ordinary address (spec.md §4.3,
// SPEC_FULL.md "Non-standard/coinbase sentinel addresses").
func reservedSentinelID(addr model.CanonicalAddress) (model.AddressID, bool) {
	switch {
	case addr.Equal(model.CoinbaseAddress):
		return model.CoinbaseAddressID, true
	case addr.Equal(model.NonStandardAddress):
		return model.NonStandardAddressID, true
	default:
		return 0, false
	}
}

// Allocate resolves ids for addrs, in order. Algorithm (spec.md §4.3):
//  1. Dedup within the input, keeping first-seen order.
//  2. Look up each in the store; already-present addresses keep their id.
//  3. Unknown addresses draw the next id from the local counter, in
//     input order -- callers MUST pass addrs pre-sorted by
//     (block_height, tx_position, input/output position) so that
//     insertion order is reproducible across replays (spec.md §4.3 "Tie-
//     break").
func (a *AddressAllocator) Allocate(ctx context.Context, addrs []model.CanonicalAddress) ([]Allocation, error) {
	seen := make(map[string]int) // dedup key -> index into `order`
	var order []model.CanonicalAddress
	for _, addr := range addrs {
		key := string(addr.Bytes)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = len(order)
		order = append(order, addr)
	}

	out := make([]Allocation, len(order))
	for i, addr := range order {
		id, existed, err := a.st.GetAddressID(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("idalloc: lookup %x: %w", addr.Bytes, err)
		}
		if reservedID, isSentinel := reservedSentinelID(addr); isSentinel {
			out[i] = Allocation{Address: addr, ID: reservedID, IsNew: !existed}
			continue
		}
		if existed {
			out[i] = Allocation{Address: addr, ID: id, IsNew: false}
			continue
		}
		newID := model.AddressID(a.next)
		a.next++
		out[i] = Allocation{Address: addr, ID: newID, IsNew: true}
	}
	return out, nil
}

// HighestAssigned returns the current value of the high-water mark after
// any Allocate calls in this batch, i.e. the value to persist in the
// next status row.
func (a *AddressAllocator) HighestAssigned() model.AddressID {
	return model.AddressID(a.next - 1)
}

// TxAllocation is one (hash, id) pairing for account-ledger tx ids.
type TxAllocation struct {
	Hash  string
	ID    model.TxID
	IsNew bool
}

// TxAllocator is the analogous allocator for account-ledger transaction
// ids, keyed by hash rather than by canonical address (spec.md §4.3).
type TxAllocator struct {
	st   store.Store
	next int64
}

func NewTxAllocator(ctx context.Context, st store.Store) (*TxAllocator, error) {
	hw, err := st.GetHighestTxID(ctx)
	if err != nil {
		return nil, fmt.Errorf("idalloc: read tx-id high-water mark: %w", err)
	}
	return &TxAllocator{st: st, next: int64(hw) + 1}, nil
}

// Allocate resolves tx ids in (block, within-block) order; hashes must
// already be deduplicated and ordered by the caller.
func (a *TxAllocator) Allocate(ctx context.Context, hashes []string) ([]TxAllocation, error) {
	out := make([]TxAllocation, len(hashes))
	for i, h := range hashes {
		id, ok, err := a.st.GetTxID(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("idalloc: lookup tx %s: %w", h, err)
		}
		if ok {
			out[i] = TxAllocation{Hash: h, ID: id, IsNew: false}
			continue
		}
		newID := model.TxID(a.next)
		a.next++
		out[i] = TxAllocation{Hash: h, ID: newID, IsNew: true}
	}
	return out, nil
}

func (a *TxAllocator) HighestAssigned() model.TxID {
	return model.TxID(a.next - 1)
}
