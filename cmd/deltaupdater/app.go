// deltaupdater is the thin CLI surface over the delta-update engine
// (spec.md §6): status, update, validate, patch-exchange-rates. main
// stays a one-liner over run so run is unit-testable without exec'ing a binary,
// mirroring the teacher's cmd/rubin-node entrypoint.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"graphsense.dev/deltaupdater/internal/config"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
	"graphsense.dev/deltaupdater/internal/projector/account"
	"graphsense.dev/deltaupdater/internal/projector/utxo"
	"graphsense.dev/deltaupdater/internal/rawstore"
	"graphsense.dev/deltaupdater/internal/store"
)

// invariantViolation marks an error that should exit 2 (spec.md §6
// "invariant violation" for `validate`), distinct from an ordinary fatal
// error (exit 1).
type invariantViolation struct{ err error }

func (e *invariantViolation) Error() string { return e.err.Error() }
func (e *invariantViolation) Unwrap() error  { return e.err }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var inv *invariantViolation
		if asInvariantViolation(err, &inv) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func asInvariantViolation(err error, target **invariantViolation) bool {
	for err != nil {
		if v, ok := err.(*invariantViolation); ok {
			*target = v
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// cliContext cancels on SIGINT/SIGTERM so a long `update` run stops
// cleanly between coordinator stage transitions (spec.md §5).
func cliContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "deltaupdater",
		Short:         "GraphSense-style delta-update engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the environment config file")

	root.AddCommand(newStatusCmd(&configPath, stdout))
	root.AddCommand(newUpdateCmd(&configPath, stdout))
	root.AddCommand(newValidateCmd(&configPath, stdout))
	root.AddCommand(newPatchExchangeRatesCmd(&configPath, stdout))
	root.AddCommand(newResolveAddressCmd(stdout))
	return root
}

// loadKeyspace loads the config file and returns the one keyspace
// matching currency.
func loadKeyspace(configPath, currency string) (config.Config, config.Keyspace, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, config.Keyspace{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, config.Keyspace{}, err
	}
	for _, ks := range cfg.Keyspaces {
		if ks.Currency == currency {
			return cfg, ks, nil
		}
	}
	return config.Config{}, config.Keyspace{}, fmt.Errorf("deltaupdater: no keyspace configured for currency %q", currency)
}

func openRawStore(ks config.Keyspace) (*rawstore.BoltStore, error) {
	raw, err := rawstore.Open(ks.DataDir, ks.Currency)
	if err != nil {
		return nil, fmt.Errorf("deltaupdater: open raw store: %w", err)
	}
	return raw, nil
}

func openStores(ks config.Keyspace, cfg config.Config) (*rawstore.BoltStore, *store.BoltStore, error) {
	raw, err := rawstore.Open(ks.DataDir, ks.Currency)
	if err != nil {
		return nil, nil, fmt.Errorf("deltaupdater: open raw store: %w", err)
	}
	st, err := store.Open(store.Options{
		DataDir:        ks.DataDir,
		Keyspace:       ks.Currency,
		WriteBatchSize: cfg.WriteBatchSize,
		Retry:          store.DefaultRetryPolicy(),
	})
	if err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("deltaupdater: open transformed store: %w", err)
	}
	return raw, st, nil
}

func newProjector(schemaType string) (projector.Projector, error) {
	switch model.SchemaType(schemaType) {
	case model.SchemaUTXO:
		return utxo.New(), nil
	case model.SchemaAccount:
		return account.New(), nil
	default:
		return nil, fmt.Errorf("deltaupdater: unknown schema_type %q", schemaType)
	}
}

