package model

import "time"

// SchemaType selects which raw-keyspace family a keyspace belongs to,
// dispatching between the UTXO and Account projectors (spec.md §4.5/§4.6,
// §9 "per-ledger projection polymorphism").
type SchemaType string

const (
	SchemaUTXO    SchemaType = "utxo"
	SchemaAccount SchemaType = "account"
)

// Block is the raw-keyspace block header (spec.md §3). Immutable once
// written by the ingestion component; heights are contiguous from
// genesis and a gap is a fatal GapInRaw error.
type Block struct {
	Height    int64
	Hash      string
	Timestamp time.Time
	TxCount   int
}

// BlockBundle carries a block plus every transaction (and, for account
// ledgers, trace and log) that belongs to it. The raw store adapter
// (C1) always returns bundles in strict height-ascending order.
type BlockBundle struct {
	Block Block

	UTXOTxs    []UTXOTx
	AccountTxs []AccountTx
}
