package model

import "testing"

func TestCanonicalAddressEqual(t *testing.T) {
	a := CanonicalAddress{Bytes: []byte{1, 2, 3}, Text: "a"}
	b := CanonicalAddress{Bytes: []byte{1, 2, 3}, Text: "a-alias"}
	c := CanonicalAddress{Bytes: []byte{1, 2, 4}, Text: "a"}

	if !a.Equal(b) {
		t.Errorf("expected addresses with identical Bytes to be Equal regardless of Text")
	}
	if a.Equal(c) {
		t.Errorf("expected addresses with differing Bytes to be unequal")
	}
}

func TestSentinelAddressesHaveDistinctIdentity(t *testing.T) {
	if CoinbaseAddress.Equal(NonStandardAddress) {
		t.Fatalf("coinbase and nonstandard sentinels must not share a Bytes identity")
	}
	if len(CoinbaseAddress.Bytes) == 0 || len(NonStandardAddress.Bytes) == 0 {
		t.Fatalf("sentinel Bytes must be non-empty so they never collide with an unset CanonicalAddress{}")
	}
	if CoinbaseAddressID == NonStandardAddressID {
		t.Fatalf("sentinel reserved ids must differ: both are %d", CoinbaseAddressID)
	}
}
