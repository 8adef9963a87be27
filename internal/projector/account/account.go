// Package account implements the Account Projector (C6): top-level
// transfers, trace-derived internal transfers, decoded token-transfer
// logs, contract-creation marking, and fee attribution for account-model
// ledgers (spec.md §4.6).
package account

import (
	"encoding/hex"
	"math/big"
	"strings"

	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
)

// transferTopic0 is the keccak256 of Transfer(address,address,uint256),
// the ERC-20 token-transfer log signature this projector decodes.
const transferTopic0 = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Projector is stateless: every call to Project depends only on its
// argument.
type Projector struct{}

func New() *Projector { return &Projector{} }

func (p *Projector) Project(bundle model.BlockBundle) (projector.Projection, error) {
	var out projector.Projection
	seen := make(map[string]bool)
	addAddr := func(a model.CanonicalAddress) {
		if a.Text == "" {
			return
		}
		if !seen[a.Text] {
			seen[a.Text] = true
			out.NewAddressOrder = append(out.NewAddressOrder, a)
		}
	}

	for _, tx := range bundle.AccountTxs {
		out.NewTxHashOrder = append(out.NewTxHashOrder, tx.Hash)
		projectTx(bundle.Block.Height, tx, &out, addAddr)
	}
	return out, nil
}

func projectTx(height int64, tx model.AccountTx, out *projector.Projection, addAddr func(model.CanonicalAddress)) {
	addAddr(tx.From)

	projectBaseCall(height, tx, out, addAddr)
	projectFee(height, tx, out)

	for _, tr := range tx.Traces {
		if !tr.Status || tr.Value == nil || tr.Value.Sign() == 0 {
			continue
		}
		addAddr(tr.From)
		addAddr(tr.To)
		out.AddressEvents = append(out.AddressEvents,
			projector.AddressTxEvent{Address: tr.From, TxID: tx.TxID, BlockHeight: height, Direction: projector.Outgoing, Value: model.CurrencyValue{Native: tr.Value}},
			projector.AddressTxEvent{Address: tr.To, TxID: tx.TxID, BlockHeight: height, Direction: projector.Incoming, Value: model.CurrencyValue{Native: tr.Value}},
		)
		out.RelationEvents = append(out.RelationEvents, projector.RelationEvent{
			Src: tr.From, Dst: tr.To, TxID: tx.TxID, BlockHeight: height,
			Token: model.NativeToken, Value: model.CurrencyValue{Native: tr.Value},
		})
	}

	for _, log := range tx.Logs {
		transfer, ok := decodeTransferLog(log)
		if !ok {
			continue
		}
		addAddr(transfer.From)
		addAddr(transfer.To)
		zero := transfer.Amount == nil || transfer.Amount.Sign() == 0
		token := model.TokenKey(transfer.Token.Text)
		out.AddressEvents = append(out.AddressEvents,
			projector.AddressTxEvent{Address: transfer.From, TxID: tx.TxID, BlockHeight: height, Direction: projector.Outgoing, Token: token, Value: model.CurrencyValue{Native: transfer.Amount}, ZeroValue: zero},
			projector.AddressTxEvent{Address: transfer.To, TxID: tx.TxID, BlockHeight: height, Direction: projector.Incoming, Token: token, Value: model.CurrencyValue{Native: transfer.Amount}, ZeroValue: zero},
		)
		if !zero {
			out.RelationEvents = append(out.RelationEvents, projector.RelationEvent{
				Src: transfer.From, Dst: transfer.To, TxID: tx.TxID, BlockHeight: height,
				Token: token, Value: model.CurrencyValue{Native: transfer.Amount},
			})
		}
	}
}

// projectBaseCall handles the top-level transaction transfer. A failed
// tx (Status == false) still touches From and To for degree purposes but
// carries no value (spec.md §4.6 "degree/zero-value stats only").
func projectBaseCall(height int64, tx model.AccountTx, out *projector.Projection, addAddr func(model.CanonicalAddress)) {
	var to model.CanonicalAddress
	isContract := false
	switch {
	case tx.To != nil:
		to = *tx.To
	case tx.ContractCreated != nil:
		to = *tx.ContractCreated
		isContract = true
	default:
		return
	}
	addAddr(to)

	value := tx.Value
	if !tx.Status || value == nil {
		value = big.NewInt(0)
	}
	zero := value.Sign() == 0

	out.AddressEvents = append(out.AddressEvents,
		projector.AddressTxEvent{Address: tx.From, TxID: tx.TxID, BlockHeight: height, Direction: projector.Outgoing, Value: model.CurrencyValue{Native: value}, ZeroValue: zero},
		projector.AddressTxEvent{Address: to, TxID: tx.TxID, BlockHeight: height, Direction: projector.Incoming, Value: model.CurrencyValue{Native: value}, ZeroValue: zero, IsContract: isContract},
	)
	out.RelationEvents = append(out.RelationEvents, projector.RelationEvent{
		Src: tx.From, Dst: to, TxID: tx.TxID, BlockHeight: height,
		Token: model.NativeToken, Value: model.CurrencyValue{Native: value}, ZeroValue: zero,
	})
}

// projectFee charges gas_used * effective_gas_price to From regardless of
// tx status: failed transactions still consume gas (spec.md §4.6).
func projectFee(height int64, tx model.AccountTx, out *projector.Projection) {
	fee := tx.Fee
	if fee == nil {
		fee = big.NewInt(0)
	}
	out.AddressEvents = append(out.AddressEvents, projector.AddressTxEvent{
		Address: tx.From, TxID: tx.TxID, BlockHeight: height, Direction: projector.Outgoing,
		Value: model.CurrencyValue{Native: fee}, ZeroValue: fee.Sign() == 0, Fee: true,
	})
}

// decodeTransferLog recognizes an ERC-20-style Transfer(from, to, amount)
// log: both from and to are indexed (32-byte topics, address right-
// aligned), amount is the unindexed 32-byte big-endian data word.
func decodeTransferLog(log model.Log) (model.TokenTransfer, bool) {
	if log.Topic0 != transferTopic0 || len(log.Topics) < 3 {
		return model.TokenTransfer{}, false
	}
	from, ok1 := addrFromTopic(log.Topics[1])
	to, ok2 := addrFromTopic(log.Topics[2])
	if !ok1 || !ok2 {
		return model.TokenTransfer{}, false
	}
	return model.TokenTransfer{
		From:   from,
		To:     to,
		Token:  log.Address,
		Amount: new(big.Int).SetBytes(log.Data),
	}, true
}

// addrFromTopic extracts the low 20 bytes of a 32-byte topic (the
// standard left-zero-padded address encoding) as a CanonicalAddress.
func addrFromTopic(topic string) (model.CanonicalAddress, bool) {
	b, err := hex.DecodeString(strings.TrimPrefix(topic, "0x"))
	if err != nil || len(b) < 20 {
		return model.CanonicalAddress{}, false
	}
	raw := b[len(b)-20:]
	return model.CanonicalAddress{Bytes: raw, Text: "0x" + hex.EncodeToString(raw)}, true
}
