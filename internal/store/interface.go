package store

import (
	"context"

	"graphsense.dev/deltaupdater/internal/model"
)

// Configuration is the per-currency configuration row (spec.md §3, §6):
// readers must honour bucket_size/prefix lengths/fiat list rather than
// assume defaults.
type Configuration struct {
	BucketSize               int
	TxPrefixLength            int
	AddressPrefixLength      int
	RelationSecondaryBuckets int
	FiatCurrencies           []string
}

// SummaryStatistics is the read side of SummaryStatisticsRow.
type SummaryStatistics struct {
	NoBlocks           int64
	NoTxs              int64
	NoAddresses        int64
	NoAddressRelations int64
	TimestampUnix      int64
}

// Store is the Transformed Store adapter contract (C2, spec.md §4.2): a
// small set of point reads used to bootstrap a batch, plus a single
// grouped, retried, chunked write operation. Implementations must make
// every RowOp an idempotent upsert and must never report success before
// the write is acknowledged durably.
type Store interface {
	// GetAddressID looks up an already-assigned id for a canonical
	// address. ok is false if the address has never been allocated.
	GetAddressID(ctx context.Context, addr model.CanonicalAddress) (id model.AddressID, ok bool, err error)

	// GetHighestAddressID returns the current high-water mark, or -1 if
	// no address has ever been allocated.
	GetHighestAddressID(ctx context.Context) (model.AddressID, error)

	// GetHighestBlock returns the highest block height reflected in the
	// transformed view, or -1 if the keyspace is empty.
	GetHighestBlock(ctx context.Context) (int64, error)

	// GetTxID looks up an already-assigned tx id by hash (account
	// ledgers only).
	GetTxID(ctx context.Context, hash string) (id model.TxID, ok bool, err error)

	// GetHighestTxID returns the current tx-id high-water mark, or -1.
	GetHighestTxID(ctx context.Context) (model.TxID, error)

	// GetAddress reads the current summary row for an address, if any.
	GetAddress(ctx context.Context, id model.AddressID) (*model.Address, bool, error)

	// GetRelation reads the current accumulator for one directed edge.
	GetRelation(ctx context.Context, key model.RelationKey) (*model.AddressRelation, bool, error)

	// GetAddressEntity looks up the entity an address is currently
	// clustered under, if any (spec.md §4.5, §9).
	GetAddressEntity(ctx context.Context, addr model.AddressID) (model.EntityID, bool, error)

	// GetHighestEntityID returns the current entity-id high-water mark,
	// or -1 if no entity has ever been allocated.
	GetHighestEntityID(ctx context.Context) (model.EntityID, error)

	// GetEntity reads the current membership list for an entity.
	GetEntity(ctx context.Context, id model.EntityID) (*model.Entity, bool, error)

	// GetConfiguration reads the keyspace's bootstrap configuration row.
	GetConfiguration(ctx context.Context) (*Configuration, bool, error)

	// PutConfiguration writes the keyspace's configuration row; the
	// coordinator calls it on the first Tick against a keyspace that has
	// none.
	PutConfiguration(ctx context.Context, cfg Configuration) error

	// GetSummaryStatistics reads the denormalized summary row.
	GetSummaryStatistics(ctx context.Context) (*SummaryStatistics, bool, error)

	// GetStatus reads the single-row DeltaUpdaterStatus (spec.md §3, §6).
	GetStatus(ctx context.Context) (*StatusRow, bool, error)

	// GetHistory reads the append-only run history, ordered by
	// LastSyncedBlock ascending.
	GetHistory(ctx context.Context) ([]HistoryRow, error)

	// CommitStatus is the STATUS_UPDATE commit point (spec.md §4.8): it
	// writes the new status row and appends one history row in a single
	// durable operation. This is the only place a batch's completion is
	// recorded; crashing before this call is always safe to resume from.
	CommitStatus(ctx context.Context, status StatusRow) error

	// BatchWrite durably applies a group of RowOps, chunked internally
	// to writeBatchSize and retried with backoff on transient errors
	// (spec.md §4.2, §7). All rows for one projected batch must be
	// acknowledged before the caller advances the status row.
	BatchWrite(ctx context.Context, rows []RowOp) error

	Close() error
}

// RelationSymmetryReader is implemented by Store adapters that persist
// outgoing and incoming relation rows in separate tables (BoltStore's
// address_outgoing_relations / address_incoming_relations), letting the
// validator (C10) spot-check that every outgoing row's twin incoming row
// carries matching aggregates (spec.md §3 "AddressRelation" symmetry
// invariant). A Store that only has one relation table satisfies the
// invariant trivially and may implement this the same way GetRelation
// does.
type RelationSymmetryReader interface {
	// GetIncomingRelation reads the twin of the outgoing relation
	// identified by key: the row filed under the reversed key in the
	// incoming-relations table.
	GetIncomingRelation(ctx context.Context, key model.RelationKey) (*model.AddressRelation, bool, error)
}
