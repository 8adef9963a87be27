// Package projector defines the shared delta-event shapes both ledger
// projectors (C5 UTXO, C6 Account) emit, and the single-interface
// dispatch point the coordinator uses to pick between them without
// sharing state across implementations (spec.md §4.5, §4.6, §9
// "per-ledger projection polymorphism").
package projector

import "graphsense.dev/deltaupdater/internal/model"

// Direction is which side of a transfer an address sat on.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

// AddressTxEvent is one (address, tx) touch: the projector's per-tx
// observation before it is folded into a batch-scoped accumulator by the
// aggregator (C7). Value carries the native amount only; fiat is
// attached later, once, from the batch's rate snapshot.
type AddressTxEvent struct {
	Address     model.CanonicalAddress
	TxID        model.TxID
	BlockHeight int64
	Direction   Direction
	Token       model.TokenKey
	Value       model.CurrencyValue // CurrencyValue.Fiat is nil until rates are attached
	ZeroValue   bool
	IsContract  bool // marks the address is_contract = true (contract creation)

	// Fee marks an event that carries only a transaction fee charge, not
	// a value transfer (account ledgers only). The aggregator counts it
	// toward tx-touch accounting but never toward zero-value
	// classification: every account tx charges a fee, so letting a fee
	// event's value decide zero-value would make no_outgoing_txs_zero_value
	// uncountable (spec.md §4.6, §4.7).
	Fee bool
}

// RelationEvent is one (src, dst, token) transfer observed within a tx.
// The UTXO projector never emits Src == Dst events (spec.md §4.5
// "input_address != output_address"); the account projector does not
// filter them.
type RelationEvent struct {
	Src, Dst    model.CanonicalAddress
	TxID        model.TxID
	BlockHeight int64
	Token       model.TokenKey
	Value       model.CurrencyValue
	ZeroValue   bool
}

// EntityUnion lists addresses that must be co-clustered (UTXO only):
// every non-coinbase input address of one tx (spec.md §4.5, §9
// "union-find for UTXO clustering").
type EntityUnion struct {
	Members []model.CanonicalAddress
}

// Projection is the full output of projecting one block bundle.
type Projection struct {
	AddressEvents  []AddressTxEvent
	RelationEvents []RelationEvent
	EntityUnions   []EntityUnion

	// NewAddressOrder lists every address seen in this bundle, in
	// (block_height, tx_position, input/output position) order, exactly
	// once. The ID allocator's tie-break rule for new addresses within
	// a batch depends on seeing them in this order across the whole
	// batch (spec.md §4.3), so callers concatenate NewAddressOrder
	// across bundles before calling the allocator.
	NewAddressOrder []model.CanonicalAddress

	// NewTxHashOrder lists account-ledger tx hashes needing an id
	// allocation, in block order. Empty for UTXO bundles, which assign
	// tx ids directly from position (see the coordinator's
	// assignTxIDs).
	NewTxHashOrder []string
}

// Projector converts one raw block bundle into a Projection. UTXO and
// Account implementations own their own state; neither shares a delta
// map with the other (spec.md §9).
type Projector interface {
	Project(bundle model.BlockBundle) (Projection, error)
}
