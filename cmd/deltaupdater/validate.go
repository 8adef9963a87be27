package main

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/spf13/cobra"

	"graphsense.dev/deltaupdater/internal/validator"
)

func newValidateCmd(configPath *string, stdout io.Writer) *cobra.Command {
	var (
		currency   string
		sampleSize int
		pedantic   bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "re-derive a random address sample from the raw ledger and compare against stored aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ks, err := loadKeyspace(*configPath, currency)
			if err != nil {
				return err
			}
			raw, st, err := openStores(ks, cfg)
			if err != nil {
				return err
			}
			defer raw.Close()
			defer st.Close()

			proj, err := newProjector(ks.SchemaType)
			if err != nil {
				return err
			}

			result, diverged, err := validator.Validate(cmd.Context(), raw, st, proj, validator.Config{
				SampleSize: sampleSize,
				Rand:       rand.New(rand.NewSource(1)),
			})
			if err != nil {
				return fmt.Errorf("deltaupdater: validate %s: %w", currency, err)
			}

			fmt.Fprintf(stdout, "%s: sampled=%d checked_relations=%d mismatched_relations=%d divergences=%d\n",
				currency, result.SampledAddresses, result.CheckedRelations, result.RelationMismatches, len(diverged))
			for _, d := range diverged {
				fmt.Fprintf(stdout, "%s: %v\n", currency, d)
			}

			if len(diverged) > 0 && pedantic {
				return &invariantViolation{err: fmt.Errorf("deltaupdater: %d divergence(s) found for %s", len(diverged), currency)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "keyspace currency to validate")
	cmd.Flags().IntVar(&sampleSize, "sample-size", 100, "number of addresses to re-derive and compare")
	cmd.Flags().BoolVar(&pedantic, "pedantic", false, "exit 2 if any divergence is found, instead of only reporting it")
	cmd.MarkFlagRequired("currency")
	return cmd
}
