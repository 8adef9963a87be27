// Package hashing provides the narrow address-canonicalization interface
// used by the resolve-address command, the same way the teacher's crypto.CryptoProvider
// is the narrow interface consensus code signs and verifies against.
package hashing

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // ripemd160 is required for legacy base58check addresses, not a new design
	"golang.org/x/crypto/sha3"
)

// Hasher is the narrow crypto interface resolve-address depends on to turn
// a ledger-native address encoding into the module's canonical binary
// representation (model.CanonicalAddress.Bytes).
type Hasher interface {
	// SHA256d is double SHA-256, the UTXO-ledger script-hash primitive.
	SHA256d(b []byte) [32]byte
	// Hash160 is RIPEMD160(SHA256(b)), the Bitcoin-style pubkey/script hash.
	Hash160(b []byte) [20]byte
	// Keccak256 is the account-ledger address/topic hash primitive.
	Keccak256(b []byte) [32]byte
}

// StdHasher is the only Hasher implementation: there is no
// hardware/alternate backend to select between for a read-only analytics
// engine, unlike the teacher's wolfCrypt/openssl signer backends.
type StdHasher struct{}

func (StdHasher) SHA256d(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func (StdHasher) Hash160(b []byte) [20]byte {
	sh := sha256.Sum256(b)
	h := ripemd160.New()
	_, _ = h.Write(sh[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (StdHasher) Keccak256(b []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
