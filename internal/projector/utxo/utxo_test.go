package utxo

import (
	"testing"

	"graphsense.dev/deltaupdater/internal/model"
)

func addr(text string) model.CanonicalAddress {
	return model.CanonicalAddress{Bytes: []byte(text), Text: text}
}

func TestProjectCoinbase(t *testing.T) {
	bundle := model.BlockBundle{
		Block: model.Block{Height: 100},
		UTXOTxs: []model.UTXOTx{
			{
				TxID:     1,
				Coinbase: true,
				Outputs:  []model.UTXOTxOutput{{Addresses: []model.CanonicalAddress{addr("miner")}, Value: 5000}},
			},
		},
	}
	p := New()
	proj, err := p.Project(bundle)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(proj.AddressEvents) != 2 {
		t.Fatalf("expected 2 address events (coinbase sentinel out, miner in), got %d", len(proj.AddressEvents))
	}
	if len(proj.RelationEvents) != 1 {
		t.Fatalf("expected 1 relation event, got %d", len(proj.RelationEvents))
	}
	rel := proj.RelationEvents[0]
	if !rel.Src.Equal(coinbaseAddr) || !rel.Dst.Equal(addr("miner")) || rel.Value.Native.Int64() != 5000 {
		t.Fatalf("unexpected relation: %+v", rel)
	}
	if len(proj.EntityUnions) != 0 {
		t.Fatalf("coinbase tx must not emit an entity union, got %v", proj.EntityUnions)
	}
}

func TestProjectTwoInputsTwoOutputsSplitsProportionally(t *testing.T) {
	bundle := model.BlockBundle{
		Block: model.Block{Height: 200},
		UTXOTxs: []model.UTXOTx{
			{
				TxID: 2,
				Inputs: []model.UTXOTxInput{
					{Addresses: []model.CanonicalAddress{addr("a")}, Value: 300},
					{Addresses: []model.CanonicalAddress{addr("b")}, Value: 100},
				},
				Outputs: []model.UTXOTxOutput{
					{Addresses: []model.CanonicalAddress{addr("c")}, Value: 400},
				},
			},
		},
	}
	p := New()
	proj, err := p.Project(bundle)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(proj.EntityUnions) != 1 || len(proj.EntityUnions[0].Members) != 2 {
		t.Fatalf("expected one 2-member entity union, got %v", proj.EntityUnions)
	}
	var toA, toB int64
	for _, rel := range proj.RelationEvents {
		switch {
		case rel.Src.Equal(addr("a")):
			toA = rel.Value.Native.Int64()
		case rel.Src.Equal(addr("b")):
			toB = rel.Value.Native.Int64()
		}
	}
	if toA != 300 || toB != 100 {
		t.Fatalf("expected proportional split 300/100, got a=%d b=%d", toA, toB)
	}
}

func TestProjectNonStandardOutputUsesSentinel(t *testing.T) {
	bundle := model.BlockBundle{
		Block: model.Block{Height: 300},
		UTXOTxs: []model.UTXOTx{
			{
				TxID:    3,
				Coinbase: true,
				Outputs: []model.UTXOTxOutput{{Value: 0}},
			},
		},
	}
	p := New()
	proj, err := p.Project(bundle)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	found := false
	for _, ev := range proj.AddressEvents {
		if ev.Address.Equal(nonStandardAddr) && ev.ZeroValue {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a zero-value non-standard address event, got %v", proj.AddressEvents)
	}
}

func TestSplitEvenlyRemainderToLowIndex(t *testing.T) {
	got := splitEvenly(10, 3)
	want := []int64{4, 3, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitEvenly(10,3) = %v, want %v", got, want)
		}
	}
}
