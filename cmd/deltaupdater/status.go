package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"graphsense.dev/deltaupdater/internal/status"
)

func newStatusCmd(configPath *string, stdout io.Writer) *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "print the current status row, summary statistics, and history invariant check",
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

			row, ok, err := st.GetStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("deltaupdater: read status: %w", err)
			}
			if !ok {
				fmt.Fprintf(stdout, "%s: no status row yet (keyspace never synced)\n", currency)
			} else {
				fmt.Fprintf(stdout, "%s: last_synced_block=%d highest_address_id=%d run_id=%s write_new=%v runtime_seconds=%.2f\n",
					currency, row.LastSyncedBlock, row.HighestAddressID, row.RunID, row.WriteNew, row.RuntimeSeconds)
			}

			summary, ok, err := st.GetSummaryStatistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("deltaupdater: read summary statistics: %w", err)
			}
			if ok {
				fmt.Fprintf(stdout, "%s: no_blocks=%d no_txs=%d no_addresses=%d no_address_relations=%d\n",
					currency, summary.NoBlocks, summary.NoTxs, summary.NoAddresses, summary.NoAddressRelations)
			}

			history, err := st.GetHistory(cmd.Context())
			if err != nil {
				return fmt.Errorf("deltaupdater: read history: %w", err)
			}
			if err := status.Validate(history, 0); err != nil {
				fmt.Fprintf(stdout, "%s: history invariant check FAILED: %v\n", currency, err)
			} else {
				fmt.Fprintf(stdout, "%s: history invariant check OK (%d entries)\n", currency, len(history))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "keyspace currency to inspect")
	cmd.MarkFlagRequired("currency")
	return cmd
}
