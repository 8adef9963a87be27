package model

// TokenKey identifies the currency a relation or per-token aggregate is
// denominated in: empty string means the ledger's native currency.
type TokenKey string

const NativeToken TokenKey = ""

// AddressRelation is one directed edge in the address graph (spec.md §3).
// A relation row written to address_outgoing_relations always has a twin
// in address_incoming_relations with matching NoTransactions/ValueSum
// (the "relation symmetry" invariant, spec.md §8).
type AddressRelation struct {
	Src AddressID
	Dst AddressID

	NoTransactions int64
	ValueSum       CurrencyValue

	TokenValueSums map[TokenKey]CurrencyValue
}

// RelationKey identifies one accumulator bucket in the batch-scoped
// relation delta map: a (src, dst) pair split out per token, so that a
// tx moving both native coin and an ERC-20 transfer between the same two
// addresses accumulates two independent rows (spec.md §4.7).
type RelationKey struct {
	Src   AddressID
	Dst   AddressID
	Token TokenKey
}
