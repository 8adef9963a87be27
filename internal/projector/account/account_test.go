package account

import (
	"math/big"
	"testing"

	"graphsense.dev/deltaupdater/internal/model"
)

func addr(text string) model.CanonicalAddress {
	return model.CanonicalAddress{Bytes: []byte(text), Text: text}
}

func TestProjectBaseCallTransfer(t *testing.T) {
	to := addr("bob")
	bundle := model.BlockBundle{
		Block: model.Block{Height: 10},
		AccountTxs: []model.AccountTx{
			{TxID: 1, Hash: "0xabc", From: addr("alice"), To: &to, Value: big.NewInt(100), Fee: big.NewInt(5), Status: true},
		},
	}
	p := New()
	proj, err := p.Project(bundle)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(proj.NewTxHashOrder) != 1 || proj.NewTxHashOrder[0] != "0xabc" {
		t.Fatalf("expected tx hash recorded, got %v", proj.NewTxHashOrder)
	}
	var relFound bool
	for _, r := range proj.RelationEvents {
		if r.Src.Equal(addr("alice")) && r.Dst.Equal(to) && r.Value.Native.Int64() == 100 {
			relFound = true
		}
	}
	if !relFound {
		t.Fatalf("expected alice->bob relation of 100, got %v", proj.RelationEvents)
	}
}

func TestProjectFailedTxHasNoValueButTouchesAddresses(t *testing.T) {
	to := addr("bob")
	bundle := model.BlockBundle{
		Block: model.Block{Height: 11},
		AccountTxs: []model.AccountTx{
			{TxID: 2, Hash: "0xdef", From: addr("alice"), To: &to, Value: big.NewInt(500), Fee: big.NewInt(3), Status: false},
		},
	}
	p := New()
	proj, err := p.Project(bundle)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	for _, r := range proj.RelationEvents {
		if r.Token == model.NativeToken && r.Value.Native.Sign() != 0 {
			t.Fatalf("failed tx must not emit a nonzero native relation: %+v", r)
		}
	}
	foundZero := false
	for _, ev := range proj.AddressEvents {
		if ev.Address.Equal(addr("alice")) && ev.ZeroValue && ev.Value.Native.Sign() == 0 {
			foundZero = true
		}
	}
	if !foundZero {
		t.Fatalf("expected a zero-value event for alice despite failed status")
	}
}

func TestProjectContractCreationMarksIsContract(t *testing.T) {
	created := addr("0xNewContract")
	bundle := model.BlockBundle{
		Block: model.Block{Height: 12},
		AccountTxs: []model.AccountTx{
			{TxID: 3, Hash: "0x111", From: addr("deployer"), ContractCreated: &created, Value: big.NewInt(0), Status: true},
		},
	}
	p := New()
	proj, err := p.Project(bundle)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	found := false
	for _, ev := range proj.AddressEvents {
		if ev.Address.Equal(created) && ev.IsContract {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected IsContract event for created address, got %v", proj.AddressEvents)
	}
}

func TestDecodeTransferLog(t *testing.T) {
	log := model.Log{
		Address: addr("0xToken"),
		Topic0:  transferTopic0,
		Topics: []string{
			transferTopic0,
			"0x000000000000000000000000000000000000000000000000000000000000aaaa",
			"0x000000000000000000000000000000000000000000000000000000000000bbbb",
		},
		Data: big.NewInt(42).Bytes(),
	}
	transfer, ok := decodeTransferLog(log)
	if !ok {
		t.Fatalf("expected log to decode")
	}
	if transfer.Amount.Int64() != 42 {
		t.Fatalf("expected amount 42, got %v", transfer.Amount)
	}
}

func TestDecodeTransferLogRejectsWrongTopic(t *testing.T) {
	log := model.Log{Topic0: "0xnotatransfer", Topics: []string{"0x0", "0x1", "0x2"}}
	if _, ok := decodeTransferLog(log); ok {
		t.Fatalf("expected non-Transfer topic to be rejected")
	}
}
