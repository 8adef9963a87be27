package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"graphsense.dev/deltaupdater/internal/lock"
)

// newPatchExchangeRatesCmd implements the narrow backfill path from
// SPEC_FULL.md's SUPPLEMENTED FEATURES: overwrite a contiguous range of
// raw exchange_rates rows directly, bypassing the coordinator, gated by
// the same per-currency lock so it never races a concurrent `update`.
func newPatchExchangeRatesCmd(configPath *string, stdout io.Writer) *cobra.Command {
	var (
		currency   string
		fromHeight int64
		rateCSV    string
	)
	cmd := &cobra.Command{
		Use:   "patch-exchange-rates",
		Short: "overwrite a contiguous range of raw exchange_rates rows, one fiat vector per height",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ks, err := loadKeyspace(*configPath, currency)
			if err != nil {
				return err
			}

			lk, err := lock.Acquire(lock.Path(ks.DataDir, ks.Currency))
			if err != nil {
				if _, ok := err.(*lock.ErrLockHeld); ok {
					fmt.Fprintf(stdout, "%s: lock held by another run, aborting patch\n", currency)
					return nil
				}
				return err
			}
			defer lk.Release()

			rows, err := parseRateRows(fromHeight, rateCSV)
			if err != nil {
				return err
			}

			raw, err := openRawStore(ks)
			if err != nil {
				return err
			}
			defer raw.Close()

			for height, rates := range rows {
				if err := raw.PutRate(height, rates); err != nil {
					return fmt.Errorf("deltaupdater: patch rate at height %d: %w", height, err)
				}
			}
			fmt.Fprintf(stdout, "%s: patched %d rate row(s) starting at height %d\n", currency, len(rows), fromHeight)
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "keyspace currency to patch")
	cmd.Flags().Int64Var(&fromHeight, "from-height", 0, "height of the first rate row; subsequent rows are one line per height")
	cmd.Flags().StringVar(&rateCSV, "rates", "", "newline-separated fiat vectors, one comma-separated row per height (e.g. \"1.0,0.9\\n1.1,0.95\")")
	cmd.MarkFlagRequired("currency")
	cmd.MarkFlagRequired("rates")
	return cmd
}

func parseRateRows(fromHeight int64, csv string) (map[int64][]float32, error) {
	out := make(map[int64][]float32)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	for i, line := range lines {
		fields := strings.Split(strings.TrimSpace(line), ",")
		vec := make([]float32, len(fields))
		for j, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
			if err != nil {
				return nil, fmt.Errorf("deltaupdater: parse rate row %d field %d (%q): %w", i, j, f, err)
			}
			vec[j] = float32(v)
		}
		out[fromHeight+int64(i)] = vec
	}
	return out, nil
}
