package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"graphsense.dev/deltaupdater/internal/hashing"
)

// newResolveAddressCmd is an operator debug helper: given a hex-encoded
// script/pubkey payload, it prints the address-hashing primitives the
// projectors assume the raw ledger already resolved into
// model.CanonicalAddress.Bytes, so an operator can cross-check a stored
// address_id against a wallet-reported address by hand.
func newResolveAddressCmd(stdout io.Writer) *cobra.Command {
	var payloadHex string
	cmd := &cobra.Command{
		Use:   "resolve-address",
		Short: "print SHA256d/Hash160/Keccak256 of a hex-encoded payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := hex.DecodeString(payloadHex)
			if err != nil {
				return fmt.Errorf("deltaupdater: decode --payload as hex: %w", err)
			}
			var h hashing.Hasher = hashing.StdHasher{}
			sha256d := h.SHA256d(payload)
			hash160 := h.Hash160(payload)
			keccak := h.Keccak256(payload)
			fmt.Fprintf(stdout, "sha256d=%s\n", hex.EncodeToString(sha256d[:]))
			fmt.Fprintf(stdout, "hash160=%s\n", hex.EncodeToString(hash160[:]))
			fmt.Fprintf(stdout, "keccak256=%s\n", hex.EncodeToString(keccak[:]))
			return nil
		},
	}
	cmd.Flags().StringVar(&payloadHex, "payload", "", "hex-encoded script or public key payload")
	cmd.MarkFlagRequired("payload")
	return cmd
}
