package model

import "math/big"

// UTXOTxOutput is one output of a UTXO transaction. Addresses holds zero
// addresses for non-standard scripts (recorded under the configured
// non-standard sentinel by the projector), one for the common case, or
// several for bare-multisig (spec.md §4.5).
type UTXOTxOutput struct {
	Addresses   []CanonicalAddress
	Value       int64
	AddressType int16
}

// UTXOTxInput mirrors UTXOTxOutput: it is the already-resolved referenced
// output (address set + value) being spent, matching the raw schema's
// shared tx_input_output shape (spec.md §6).
type UTXOTxInput struct {
	Addresses   []CanonicalAddress
	Value       int64
	AddressType int16
}

// UTXOTx is one raw UTXO-ledger transaction (spec.md §3). TxID is unset
// (zero) until the ID allocator assigns one in (block_height,
// within-block-index) order.
type UTXOTx struct {
	TxID        TxID
	Hash        string
	BlockHeight int64
	Index       int
	Inputs      []UTXOTxInput
	Outputs     []UTXOTxOutput
	Coinbase    bool
}

// Fee returns sum(inputs) - sum(outputs) for a non-coinbase tx, or 0 for
// coinbase (spec.md §4.5).
func (t UTXOTx) Fee() int64 {
	if t.Coinbase {
		return 0
	}
	var in, out int64
	for _, i := range t.Inputs {
		in += i.Value
	}
	for _, o := range t.Outputs {
		out += o.Value
	}
	return in - out
}

// AccountTx is one raw account-ledger transaction (spec.md §3).
type AccountTx struct {
	TxID        TxID
	Hash        string
	BlockHeight int64
	Index       int

	From CanonicalAddress
	To   *CanonicalAddress // nil for contract-creation transactions

	Value *big.Int
	Fee   *big.Int // receipt_gas_used * effective_gas_price, attributed to From

	Status bool // false = failed: degree/zero-value stats only, no value

	ContractCreated *CanonicalAddress // set when this tx deploys a contract

	Traces []Trace
	Logs   []Log
}

// Trace is one internal call recorded against a transaction (spec.md
// §4.6). Only successful, nonzero-value traces are candidate transfers.
type Trace struct {
	TraceIndex int
	From       CanonicalAddress
	To         CanonicalAddress
	Value      *big.Int
	TraceType  string
	Status     bool
}

// Log is one EVM-style log entry; Topic0 is matched against the
// configured token-transfer signatures to decode TokenTransfer rows.
type Log struct {
	LogIndex int
	Address  CanonicalAddress // emitting (token) contract
	Topic0   string
	Topics   []string
	Data     []byte
}

// TokenTransfer is a decoded ERC-20-style transfer event.
type TokenTransfer struct {
	From   CanonicalAddress
	To     CanonicalAddress
	Token  CanonicalAddress
	Amount *big.Int
}
