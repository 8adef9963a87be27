package idalloc

import (
	"context"
	"testing"

	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/store"
)

// TestAllocateReservesDistinctSentinelIDs covers the fix for the sentinel
// collision: coinbase and non-standard both used to carry a nil Bytes
// identity, so they collapsed onto the same dedup/lookup key and shared
// one id. They must now resolve to their own fixed, reserved ids, never
// colliding with each other or with a dynamically allocated address.
func TestAllocateReservesDistinctSentinelIDs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a, err := New(ctx, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	real := model.CanonicalAddress{Bytes: []byte("real"), Text: "real"}
	allocs, err := a.Allocate(ctx, []model.CanonicalAddress{model.CoinbaseAddress, model.NonStandardAddress, real})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	byText := make(map[string]Allocation, len(allocs))
	for _, al := range allocs {
		byText[al.Address.Text] = al
	}
	coinbase := byText[model.CoinbaseAddressText]
	nonStandard := byText[model.NonStandardAddressText]
	realAlloc := byText["real"]

	if coinbase.ID == nonStandard.ID {
		t.Fatalf("coinbase and nonstandard sentinels collapsed onto the same id: %d", coinbase.ID)
	}
	if coinbase.ID != model.CoinbaseAddressID {
		t.Errorf("coinbase id = %d, want reserved %d", coinbase.ID, model.CoinbaseAddressID)
	}
	if nonStandard.ID != model.NonStandardAddressID {
		t.Errorf("nonstandard id = %d, want reserved %d", nonStandard.ID, model.NonStandardAddressID)
	}
	if realAlloc.ID == coinbase.ID || realAlloc.ID == nonStandard.ID {
		t.Fatalf("a real address must never be assigned a reserved sentinel id, got %d", realAlloc.ID)
	}
	if !coinbase.IsNew || !nonStandard.IsNew || !realAlloc.IsNew {
		t.Fatalf("expected all three addresses to be newly allocated on a fresh store")
	}
}

// TestAllocateSentinelIDIsStableAcrossBatches checks that once a sentinel
// has been persisted, a later batch resolves it to the same reserved id
// (IsNew false) rather than re-minting it.
func TestAllocateSentinelIDIsStableAcrossBatches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	a1, err := New(ctx, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := a1.Allocate(ctx, []model.CanonicalAddress{model.CoinbaseAddress})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := st.BatchWrite(ctx, []store.RowOp{
		store.AddressIDIndexRow{Address: first[0].Address, ID: first[0].ID},
	}); err != nil {
		t.Fatalf("BatchWrite: %v", err)
	}

	a2, err := New(ctx, st)
	if err != nil {
		t.Fatalf("New (second batch): %v", err)
	}
	second, err := a2.Allocate(ctx, []model.CanonicalAddress{model.CoinbaseAddress})
	if err != nil {
		t.Fatalf("Allocate (second batch): %v", err)
	}
	if second[0].ID != model.CoinbaseAddressID {
		t.Errorf("coinbase id drifted across batches: got %d, want %d", second[0].ID, model.CoinbaseAddressID)
	}
	if second[0].IsNew {
		t.Errorf("expected coinbase to already be persisted on the second batch")
	}
}

// TestNewFloorsCounterAboveReservedSentinelRange ensures a fresh store's
// dynamic counter never starts inside the reserved sentinel id range, so
// the first real address allocated can never collide with a sentinel.
func TestNewFloorsCounterAboveReservedSentinelRange(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a, err := New(ctx, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	real := model.CanonicalAddress{Bytes: []byte("real"), Text: "real"}
	allocs, err := a.Allocate(ctx, []model.CanonicalAddress{real})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if allocs[0].ID <= model.NonStandardAddressID {
		t.Fatalf("first dynamically allocated id = %d, want > %d", allocs[0].ID, model.NonStandardAddressID)
	}
}
