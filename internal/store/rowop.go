// Package store implements the Transformed Store adapter (C2): read
// operations for bootstrapping plus a grouped, retrying, chunked
// batch_write over a tagged union of row shapes (spec.md §4.2, §6).
package store

import (
	"graphsense.dev/deltaupdater/internal/model"
)

// RowOp is the tagged union over every transformed-table row shape a
// batch can write. Every concrete RowOp is an idempotent upsert: writing
// it twice yields the same final state (spec.md §4.2, §9 "Idempotency").
type RowOp interface {
	rowOp()
}

// AddressRow upserts the address summary table.
type AddressRow struct {
	*model.Address
}

func (AddressRow) rowOp() {}

// AddressIDIndexRow upserts the address -> id index, keyed by the
// address's canonical bytes (address_id_by_address in BoltStore). No
// prefix-bucketed or id-group-bucketed index table is written.
type AddressIDIndexRow struct {
	Address model.CanonicalAddress
	ID      model.AddressID
}

func (AddressIDIndexRow) rowOp() {}

// TxIDIndexRow upserts transaction_ids_by_* (account ledgers only, keyed
// by tx hash; for UTXO ledgers the tx id is derivable from block+index
// and no index row is needed).
type TxIDIndexRow struct {
	Hash string
	ID   model.TxID
}

func (TxIDIndexRow) rowOp() {}

// RelationRow upserts one directed edge; Outgoing distinguishes which of
// the two symmetric tables (address_outgoing_relations /
// address_incoming_relations) this row belongs to.
type RelationRow struct {
	model.AddressRelation
	Outgoing bool
}

func (RelationRow) rowOp() {}

// AddressTransactionRow upserts one (address_id, is_outgoing, [currency,]
// transaction_id) row of the per-address transaction list (spec.md §6),
// clustered DESC by transaction_id at read time.
type AddressTransactionRow struct {
	Address     model.AddressID
	Outgoing    bool
	Token       model.TokenKey
	TxID        model.TxID
	BlockHeight int64
	Value       model.CurrencyValue
}

func (AddressTransactionRow) rowOp() {}

// BlockTransactionRow upserts block_transactions: the tx ids belonging
// to one block; Store.GetHighestBlock reads the highest such height back.
type BlockTransactionRow struct {
	BlockHeight int64
	TxIDs       []model.TxID
}

func (BlockTransactionRow) rowOp() {}

// EntityRow upserts entity membership (UTXO only).
type EntityRow struct {
	model.Entity
}

func (EntityRow) rowOp() {}

// AddressEntityIndexRow upserts the reverse index an address's entity
// assignment is looked up through, so that a later batch observing one of
// an existing cluster's addresses in a new union can find and merge into
// the existing entity rather than minting a duplicate one (spec.md §4.5,
// §9 "union-find for UTXO clustering" persists across batches).
type AddressEntityIndexRow struct {
	Address model.AddressID
	Entity  model.EntityID
}

func (AddressEntityIndexRow) rowOp() {}

// ExchangeRateRow upserts one block's fiat rate vector.
type ExchangeRateRow struct {
	BlockHeight int64
	Rates       []float32
}

func (ExchangeRateRow) rowOp() {}

// SummaryStatisticsRow upserts the single denormalized summary row
// refreshed by every WRITING stage, in the same BatchWrite as the batch's
// other rows (SPEC_FULL.md supplemented feature).
type SummaryStatisticsRow struct {
	NoBlocks           int64
	NoTxs              int64
	NoAddresses        int64
	NoAddressRelations int64
	TimestampUnix      int64
}

func (SummaryStatisticsRow) rowOp() {}
