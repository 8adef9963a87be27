package main

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/spf13/cobra"

	"graphsense.dev/deltaupdater/internal/coordinator"
	"graphsense.dev/deltaupdater/internal/lock"
	"graphsense.dev/deltaupdater/internal/logging"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/validator"
)

// updatePedanticSampleSize bounds the spot-check validate sample run
// after each tick when --pedantic is set, so it stays cheap relative to
// the batch it just wrote.
const updatePedanticSampleSize = 20

func newUpdateCmd(configPath *string, stdout io.Writer) *cobra.Command {
	var (
		currency       string
		endBlock       int64
		writeBatchSize int64
		forwardFill    bool
		pedantic       bool
		createSchema   bool
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "run the delta-update loop until caught up (or --end-block is reached)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ks, err := loadKeyspace(*configPath, currency)
			if err != nil {
				return err
			}

			lk, err := lock.Acquire(lock.Path(ks.DataDir, ks.Currency))
			if err != nil {
				if _, ok := err.(*lock.ErrLockHeld); ok {
					fmt.Fprintf(stdout, "%s: lock held by another run, nothing to do\n", currency)
					return nil
				}
				return err
			}
			defer lk.Release()

			raw, st, err := openStores(ks, cfg)
			if err != nil {
				return err
			}
			defer raw.Close()
			defer st.Close()

			if createSchema {
				// store.Open/rawstore.Open already created the
				// keyspace's bbolt files and buckets above; nothing
				// left to do but report success and exit without
				// running a tick.
				fmt.Fprintf(stdout, "%s: schema created\n", currency)
				return nil
			}

			proj, err := newProjector(ks.SchemaType)
			if err != nil {
				return err
			}

			batchSize := cfg.WriteBatchSize
			if writeBatchSize > 0 {
				batchSize = int(writeBatchSize)
			}
			opts := coordinator.Options{
				Currency:                 ks.Currency,
				SchemaType:               model.SchemaType(ks.SchemaType),
				WriteBatchSize:           int64(batchSize),
				SafetyMargin:             cfg.SafetyMargin,
				ForwardFill:              forwardFill || cfg.ForwardFillRates,
				FiatCurrencies:           ks.FiatCurrencies,
				NativeDecimals:           ks.NativeDecimals,
				BucketSize:               ks.BucketSize,
				TxPrefixLength:           ks.TxPrefixLength,
				AddressPrefixLength:      ks.AddressPrefixLength,
				RelationSecondaryBuckets: ks.RelationSecondaryBuckets,
				DataDir:                  ks.DataDir,
			}
			log := logging.New(cfg.LogLevel)
			co := coordinator.New(opts, raw, st, proj, log)

			ctx, cancel := cliContext()
			defer cancel()

			for {
				result, err := co.Tick(ctx)
				if err != nil {
					return fmt.Errorf("deltaupdater: update %s: %w", currency, err)
				}
				if result.NoOp {
					fmt.Fprintf(stdout, "%s: caught up at block %d\n", currency, result.ToHeight)
					return nil
				}
				fmt.Fprintf(stdout, "%s: synced blocks %d-%d\n", currency, result.FromHeight, result.ToHeight)

				if pedantic {
					vresult, diverged, verr := validator.Validate(ctx, raw, st, proj, validator.Config{
						SampleSize: updatePedanticSampleSize,
						Rand:       rand.New(rand.NewSource(result.ToHeight)),
					})
					if verr != nil {
						return fmt.Errorf("deltaupdater: pedantic validate %s: %w", currency, verr)
					}
					if len(diverged) > 0 {
						return fmt.Errorf("deltaupdater: %d divergence(s) found for %s after syncing to block %d (sampled %d)",
							len(diverged), currency, result.ToHeight, vresult.SampledAddresses)
					}
				}

				if endBlock > 0 && result.ToHeight >= endBlock {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "", "keyspace currency to update")
	cmd.Flags().Int64Var(&endBlock, "end-block", 0, "stop once this height is synced (0 = run until caught up)")
	cmd.Flags().Int64Var(&writeBatchSize, "write-batch-size", 0, "override the configured per-tick block batch size")
	cmd.Flags().BoolVar(&forwardFill, "forward-fill-rates", false, "forward-fill exchange rate gaps instead of failing")
	cmd.Flags().BoolVar(&pedantic, "pedantic", false, "after every tick, re-derive a small address sample and fail fatally on divergence (spec.md \"Divergence\": fatal in --pedantic)")
	cmd.Flags().BoolVar(&createSchema, "create-schema", false, "create the keyspace's storage files and exit, without running any tick")
	cmd.MarkFlagRequired("currency")
	return cmd
}
