package model

// EntityID is a dense, monotone integer identifier for a UTXO cluster
// (spec.md §3, §9 "union-find for UTXO clustering").
type EntityID int32

// Entity aggregates are always recomputed as a projection of member
// Address aggregates, never accumulated independently (spec.md §3).
// Entity itself therefore only carries membership; the validator and
// query surface derive aggregates on read.
type Entity struct {
	ID      EntityID
	Members []AddressID
}
