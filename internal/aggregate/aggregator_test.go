package aggregate

import (
	"context"
	"math/big"
	"testing"

	"graphsense.dev/deltaupdater/internal/idalloc"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
	"graphsense.dev/deltaupdater/internal/store"
)

func addr(text string) model.CanonicalAddress {
	return model.CanonicalAddress{Bytes: []byte(text), Text: text}
}

func cv(native int64, fiatWidth int) model.CurrencyValue {
	return model.CurrencyValue{Native: big.NewInt(native), Fiat: make([]float32, fiatWidth)}
}

func TestAggregateSingleTransferCreatesAddressesAndRelation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()

	addrAlloc, err := idalloc.New(ctx, st)
	if err != nil {
		t.Fatalf("idalloc.New: %v", err)
	}
	agg, err := New(ctx, st, 2, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, b := addr("a"), addr("b")
	bundle := model.BlockBundle{
		Block:   model.Block{Height: 100},
		UTXOTxs: []model.UTXOTx{{TxID: 0, Hash: "tx1", BlockHeight: 100}},
	}
	proj := projector.Projection{
		NewAddressOrder: []model.CanonicalAddress{a, b},
		AddressEvents: []projector.AddressTxEvent{
			{Address: a, TxID: 0, BlockHeight: 100, Direction: projector.Outgoing, Value: cv(100, 2)},
			{Address: b, TxID: 0, BlockHeight: 100, Direction: projector.Incoming, Value: cv(100, 2)},
		},
		RelationEvents: []projector.RelationEvent{
			{Src: a, Dst: b, TxID: 0, BlockHeight: 100, Value: cv(100, 2)},
		},
	}

	rows, totals, err := agg.Aggregate(ctx, addrAlloc, []model.BlockBundle{bundle}, []projector.Projection{proj}, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if totals.NoAddresses != 2 {
		t.Errorf("NoAddresses = %d, want 2", totals.NoAddresses)
	}
	if totals.NoAddressRelations != 1 {
		t.Errorf("NoAddressRelations = %d, want 1", totals.NoAddressRelations)
	}
	if totals.NoTxs != 1 {
		t.Errorf("NoTxs = %d, want 1", totals.NoTxs)
	}

	if err := st.BatchWrite(ctx, rows); err != nil {
		t.Fatalf("BatchWrite: %v", err)
	}

	idA, ok, err := st.GetAddressID(ctx, a)
	if err != nil || !ok {
		t.Fatalf("GetAddressID(a): ok=%v err=%v", ok, err)
	}
	idB, ok, err := st.GetAddressID(ctx, b)
	if err != nil || !ok {
		t.Fatalf("GetAddressID(b): ok=%v err=%v", ok, err)
	}

	rowA, ok, err := st.GetAddress(ctx, idA)
	if err != nil || !ok {
		t.Fatalf("GetAddress(a): ok=%v err=%v", ok, err)
	}
	if rowA.TotalSpent.Native.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("a.TotalSpent = %v, want 100", rowA.TotalSpent.Native)
	}
	if rowA.NoOutgoingTxs != 1 || rowA.OutDegree != 1 {
		t.Errorf("a: NoOutgoingTxs=%d OutDegree=%d, want 1/1", rowA.NoOutgoingTxs, rowA.OutDegree)
	}

	rowB, ok, err := st.GetAddress(ctx, idB)
	if err != nil || !ok {
		t.Fatalf("GetAddress(b): ok=%v err=%v", ok, err)
	}
	if rowB.TotalReceived.Native.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("b.TotalReceived = %v, want 100", rowB.TotalReceived.Native)
	}
	if rowB.NoIncomingTxs != 1 || rowB.InDegree != 1 {
		t.Errorf("b: NoIncomingTxs=%d InDegree=%d, want 1/1", rowB.NoIncomingTxs, rowB.InDegree)
	}

	rel, ok, err := st.GetRelation(ctx, model.RelationKey{Src: idA, Dst: idB})
	if err != nil || !ok {
		t.Fatalf("GetRelation: ok=%v err=%v", ok, err)
	}
	if rel.NoTransactions != 1 || rel.ValueSum.Native.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("relation = %+v, want 1 tx / 100 value", rel)
	}
}

func TestAggregateSecondBatchAccumulatesOntoExistingAddress(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a, b := addr("a"), addr("b")

	run := func(txID model.TxID, blockHeight int64) {
		addrAlloc, err := idalloc.New(ctx, st)
		if err != nil {
			t.Fatalf("idalloc.New: %v", err)
		}
		agg, err := New(ctx, st, 1, 8)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		bundle := model.BlockBundle{
			Block:   model.Block{Height: blockHeight},
			UTXOTxs: []model.UTXOTx{{TxID: txID, BlockHeight: blockHeight}},
		}
		proj := projector.Projection{
			NewAddressOrder: []model.CanonicalAddress{a, b},
			AddressEvents: []projector.AddressTxEvent{
				{Address: a, TxID: txID, BlockHeight: blockHeight, Direction: projector.Outgoing, Value: cv(50, 1)},
				{Address: b, TxID: txID, BlockHeight: blockHeight, Direction: projector.Incoming, Value: cv(50, 1)},
			},
			RelationEvents: []projector.RelationEvent{
				{Src: a, Dst: b, TxID: txID, BlockHeight: blockHeight, Value: cv(50, 1)},
			},
		}
		rows, _, err := agg.Aggregate(ctx, addrAlloc, []model.BlockBundle{bundle}, []projector.Projection{proj}, nil)
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
		if err := st.BatchWrite(ctx, rows); err != nil {
			t.Fatalf("BatchWrite: %v", err)
		}
	}

	run(0, 100)
	run(1, 101)

	idA, _, _ := st.GetAddressID(ctx, a)
	rowA, _, _ := st.GetAddress(ctx, idA)
	if rowA.TotalSpent.Native.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("a.TotalSpent after two batches = %v, want 100", rowA.TotalSpent.Native)
	}
	if rowA.NoOutgoingTxs != 2 {
		t.Errorf("a.NoOutgoingTxs = %d, want 2", rowA.NoOutgoingTxs)
	}
	// A relation already observed in batch one must not bump degree again.
	if rowA.OutDegree != 1 {
		t.Errorf("a.OutDegree = %d, want 1 (degree counts distinct edges, not txs)", rowA.OutDegree)
	}

	idB, _, _ := st.GetAddressID(ctx, b)
	rel, ok, err := st.GetRelation(ctx, model.RelationKey{Src: idA, Dst: idB})
	if err != nil || !ok {
		t.Fatalf("GetRelation: ok=%v err=%v", ok, err)
	}
	if rel.NoTransactions != 2 {
		t.Errorf("relation.NoTransactions = %d, want 2", rel.NoTransactions)
	}
}

// TestAggregateFailedTxOutgoingCountsZeroValueAsSubset covers spec.md §8
// scenario 4: a block with a succeeding tx (X->Y) and a failed tx (X->Z).
// Every account tx still charges X a fee regardless of success, so the
// fee event alone must never make X's failed-tx touch look non-zero; X
// must show two outgoing txs total, with the failed one counted in the
// zero-value subset.
func TestAggregateFailedTxOutgoingCountsZeroValueAsSubset(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	addrAlloc, err := idalloc.New(ctx, st)
	if err != nil {
		t.Fatalf("idalloc.New: %v", err)
	}
	agg, err := New(ctx, st, 1, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x, y, z := addr("x"), addr("y"), addr("z")
	bundle := model.BlockBundle{Block: model.Block{Height: 200}}
	proj := projector.Projection{
		NewAddressOrder: []model.CanonicalAddress{x, y, z},
		AddressEvents: []projector.AddressTxEvent{
			// T1 succeeds: X -> Y for 1 unit, plus its fee charge.
			{Address: x, TxID: 1, BlockHeight: 200, Direction: projector.Outgoing, Value: cv(1, 1)},
			{Address: y, TxID: 1, BlockHeight: 200, Direction: projector.Incoming, Value: cv(1, 1)},
			{Address: x, TxID: 1, BlockHeight: 200, Direction: projector.Outgoing, Value: cv(1, 1), Fee: true},
			// T2 fails: no value moves, but a fee is still charged to X.
			{Address: x, TxID: 2, BlockHeight: 200, Direction: projector.Outgoing, Value: cv(0, 1), ZeroValue: true},
			{Address: z, TxID: 2, BlockHeight: 200, Direction: projector.Incoming, Value: cv(0, 1), ZeroValue: true},
			{Address: x, TxID: 2, BlockHeight: 200, Direction: projector.Outgoing, Value: cv(1, 1), Fee: true},
		},
		RelationEvents: []projector.RelationEvent{
			{Src: x, Dst: y, TxID: 1, BlockHeight: 200, Value: cv(1, 1)},
		},
	}

	rows, _, err := agg.Aggregate(ctx, addrAlloc, []model.BlockBundle{bundle}, []projector.Projection{proj}, nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if err := st.BatchWrite(ctx, rows); err != nil {
		t.Fatalf("BatchWrite: %v", err)
	}

	idX, ok, err := st.GetAddressID(ctx, x)
	if err != nil || !ok {
		t.Fatalf("GetAddressID(x): ok=%v err=%v", ok, err)
	}
	rowX, ok, err := st.GetAddress(ctx, idX)
	if err != nil || !ok {
		t.Fatalf("GetAddress(x): ok=%v err=%v", ok, err)
	}
	if rowX.NoOutgoingTxs != 2 {
		t.Errorf("x.NoOutgoingTxs = %d, want 2", rowX.NoOutgoingTxs)
	}
	if rowX.NoOutgoingTxsZeroValue < 1 {
		t.Errorf("x.NoOutgoingTxsZeroValue = %d, want >= 1", rowX.NoOutgoingTxsZeroValue)
	}
}

func TestAggregateEntityMergeAcrossBatches(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	x, y, z := addr("x"), addr("y"), addr("z")

	runUnion := func(addrs []model.CanonicalAddress, members []model.CanonicalAddress) {
		addrAlloc, err := idalloc.New(ctx, st)
		if err != nil {
			t.Fatalf("idalloc.New: %v", err)
		}
		agg, err := New(ctx, st, 1, 8)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		bundle := model.BlockBundle{Block: model.Block{Height: 1}}
		proj := projector.Projection{
			NewAddressOrder: addrs,
			EntityUnions:    []projector.EntityUnion{{Members: members}},
		}
		rows, _, err := agg.Aggregate(ctx, addrAlloc, []model.BlockBundle{bundle}, []projector.Projection{proj}, nil)
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
		if err := st.BatchWrite(ctx, rows); err != nil {
			t.Fatalf("BatchWrite: %v", err)
		}
	}

	// Batch one clusters x and y together.
	runUnion([]model.CanonicalAddress{x, y}, []model.CanonicalAddress{x, y})
	// Batch two observes y again, alongside a brand new address z, which
	// must merge into the entity already assigned to y rather than
	// minting a second cluster.
	runUnion([]model.CanonicalAddress{z}, []model.CanonicalAddress{y, z})

	idX, _, _ := st.GetAddressID(ctx, x)
	idY, _, _ := st.GetAddressID(ctx, y)
	idZ, _, _ := st.GetAddressID(ctx, z)

	eX, ok, err := st.GetAddressEntity(ctx, idX)
	if err != nil || !ok {
		t.Fatalf("GetAddressEntity(x): ok=%v err=%v", ok, err)
	}
	eY, ok, err := st.GetAddressEntity(ctx, idY)
	if err != nil || !ok {
		t.Fatalf("GetAddressEntity(y): ok=%v err=%v", ok, err)
	}
	eZ, ok, err := st.GetAddressEntity(ctx, idZ)
	if err != nil || !ok {
		t.Fatalf("GetAddressEntity(z): ok=%v err=%v", ok, err)
	}
	if eX != eY || eY != eZ {
		t.Fatalf("expected x, y, z in one entity, got %d %d %d", eX, eY, eZ)
	}

	entity, ok, err := st.GetEntity(ctx, eX)
	if err != nil || !ok {
		t.Fatalf("GetEntity: ok=%v err=%v", ok, err)
	}
	if len(entity.Members) != 3 {
		t.Errorf("entity members = %v, want 3", entity.Members)
	}
}
