package model

import "bytes"

// AddressID is a dense, monotone integer identifier assigned by the ID
// allocator (C3). Once assigned to a CanonicalAddress it is never reused
// or reassigned (spec.md §4.3).
type AddressID int32

// TxID is a dense, monotone integer identifier for a transaction, assigned
// in (block_height, within-block-index) order for UTXO ledgers, or keyed
// by hash and allocated the same way for account ledgers.
type TxID int64

// CanonicalAddress is the binary representation of an address as it is
// stored and compared; Text is the human-facing string form used only to
// derive the partitioning Prefix. Bytes holds a slice, so CanonicalAddress
// is not comparable with == -- use Equal.
type CanonicalAddress struct {
	Bytes []byte
	Text  string
}

// Equal reports whether a and b identify the same canonical address, by
// their stored binary identity.
func (a CanonicalAddress) Equal(b CanonicalAddress) bool {
	return bytes.Equal(a.Bytes, b.Bytes)
}

// Prefix returns the first p characters of the address's textual form,
// used as the partitioning key for address_ids_by_address_prefix.
func (a CanonicalAddress) Prefix(p int) string {
	return Prefix(a.Text, p)
}

// Reserved sentinel addresses. These are first-class address rows with
// low, fixed ids (see SPEC_FULL.md "Non-standard/coinbase sentinel
// addresses") rather than being silently dropped from aggregation, or
// colliding with each other under an empty Bytes identity.
const (
	CoinbaseAddressText    = "coinbase"
	NonStandardAddressText = "nonstandard"
)

// CoinbaseAddressID and NonStandardAddressID are reserved, fixed address
// ids: the dynamic allocator (idalloc.AddressAllocator) never hands these
// out, and its counter always starts above them.
const (
	CoinbaseAddressID    AddressID = 0
	NonStandardAddressID AddressID = 1
)

// CoinbaseAddress and NonStandardAddress are the canonical sentinel
// addresses. Their Bytes are fixed and distinct from each other (and from
// any real on-chain address's Bytes), so they never collide under a
// string(Bytes) dedup/lookup key the way two empty-Bytes values would.
var (
	CoinbaseAddress    = CanonicalAddress{Bytes: []byte(CoinbaseAddressText), Text: CoinbaseAddressText}
	NonStandardAddress = CanonicalAddress{Bytes: []byte(NonStandardAddressText), Text: NonStandardAddressText}
)

// Address is the per-address summary row (spec.md §3). All counters are
// absolute, read-modify-write values, never stored as deltas. A batch's
// delta is folded into these values exactly once, by WRITING's single
// atomic BatchWrite; recovering from a crash between WRITING and
// STATUS_UPDATE (coordinator.recoverIncompleteRun) replays only the
// status commit, never re-aggregates, so these rows are never
// double-folded (spec.md §9 "Idempotency").
type Address struct {
	ID AddressID

	Canonical CanonicalAddress

	NoIncomingTxs          int64
	NoOutgoingTxs          int64
	NoIncomingTxsZeroValue int64
	NoOutgoingTxsZeroValue int64

	FirstTxID TxID
	LastTxID  TxID
	HasTxIDs  bool // false until the first tx touching this address is folded in

	TotalReceived CurrencyValue
	TotalSpent    CurrencyValue

	TokenTotalsReceived map[string]CurrencyValue
	TokenTotalsSpent    map[string]CurrencyValue

	InDegree           int64
	OutDegree          int64
	InDegreeZeroValue  int64
	OutDegreeZeroValue int64

	IsContract bool
}

// NewAddress returns an empty summary row for a newly allocated id.
func NewAddress(id AddressID, addr CanonicalAddress, fiatWidth int) *Address {
	return &Address{
		ID:                  id,
		Canonical:           addr,
		TotalReceived:       ZeroCurrencyValue(fiatWidth),
		TotalSpent:          ZeroCurrencyValue(fiatWidth),
		TokenTotalsReceived: make(map[string]CurrencyValue),
		TokenTotalsSpent:    make(map[string]CurrencyValue),
	}
}

// ObserveTxID folds a newly-seen tx id into the first/last hints: first
// takes the min, last takes the max, matching the merge rule in
// spec.md §4.7.
func (a *Address) ObserveTxID(id TxID) {
	if !a.HasTxIDs {
		a.FirstTxID, a.LastTxID, a.HasTxIDs = id, id, true
		return
	}
	if id < a.FirstTxID {
		a.FirstTxID = id
	}
	if id > a.LastTxID {
		a.LastTxID = id
	}
}
