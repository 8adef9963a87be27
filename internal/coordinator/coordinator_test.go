package coordinator

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"graphsense.dev/deltaupdater/internal/logging"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector/utxo"
	"graphsense.dev/deltaupdater/internal/rawstore"
	"graphsense.dev/deltaupdater/internal/status"
	"graphsense.dev/deltaupdater/internal/store"
)

func canon(text string) model.CanonicalAddress {
	return model.CanonicalAddress{Bytes: []byte(text), Text: text}
}

func testOpts(dataDir string) Options {
	return Options{
		Currency:                 "btc",
		SchemaType:               model.SchemaUTXO,
		WriteBatchSize:           10,
		SafetyMargin:             0,
		FiatCurrencies:           []string{"usd"},
		NativeDecimals:           8,
		BucketSize:               1000,
		TxPrefixLength:           1,
		AddressPrefixLength:      1,
		RelationSecondaryBuckets: 1,
		DataDir:                  dataDir,
	}
}

func silentLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func buildRaw(t *testing.T) *rawstore.MemStore {
	t.Helper()
	raw := rawstore.NewMemStore()
	raw.PutBundle(model.BlockBundle{
		Block: model.Block{Height: 0},
		UTXOTxs: []model.UTXOTx{{
			Hash: "tx0", BlockHeight: 0, Coinbase: true,
			Outputs: []model.UTXOTxOutput{{Addresses: []model.CanonicalAddress{canon("x")}, Value: 1000}},
		}},
	})
	raw.PutBundle(model.BlockBundle{
		Block: model.Block{Height: 1},
		UTXOTxs: []model.UTXOTx{{
			Hash: "tx1", BlockHeight: 1,
			Inputs: []model.UTXOTxInput{{Addresses: []model.CanonicalAddress{canon("x")}, Value: 1000}},
			Outputs: []model.UTXOTxOutput{
				{Addresses: []model.CanonicalAddress{canon("y")}, Value: 600},
				{Addresses: []model.CanonicalAddress{canon("z")}, Value: 400},
			},
		}},
	})
	raw.PutRate(0, []float32{1})
	raw.PutRate(1, []float32{1})
	return raw
}

func TestTickBootstrapsConfigurationAndCommitsStatus(t *testing.T) {
	ctx := context.Background()
	raw := buildRaw(t)
	st := store.NewMemStore()
	c := New(testOpts(""), raw, st, utxo.New(), silentLog())

	result, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if result.NoOp {
		t.Fatalf("expected a real batch, got NoOp")
	}
	if result.FromHeight != 0 || result.ToHeight != 1 {
		t.Fatalf("expected range [0,1], got [%d,%d]", result.FromHeight, result.ToHeight)
	}

	cfg, ok, err := st.GetConfiguration(ctx)
	if err != nil || !ok {
		t.Fatalf("expected configuration to be bootstrapped: ok=%v err=%v", ok, err)
	}
	if cfg.BucketSize != 1000 {
		t.Fatalf("unexpected bootstrapped configuration: %+v", cfg)
	}

	status, ok, err := st.GetStatus(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a committed status row: ok=%v err=%v", ok, err)
	}
	if status.LastSyncedBlock != 1 {
		t.Fatalf("expected last_synced_block=1, got %d", status.LastSyncedBlock)
	}
	if !status.WriteNew {
		t.Fatalf("expected write_new=true on the first-ever status row")
	}

	xID, ok, err := st.GetAddressID(ctx, canon("x"))
	if err != nil || !ok {
		t.Fatalf("expected address x to be allocated: ok=%v err=%v", ok, err)
	}
	xRow, ok, err := st.GetAddress(ctx, xID)
	if err != nil || !ok {
		t.Fatalf("expected address x row: ok=%v err=%v", ok, err)
	}
	if xRow.TotalReceived.Native.Sign() == 0 {
		t.Fatalf("expected address x to have received funds, got zero")
	}

	summary, ok, err := st.GetSummaryStatistics(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a summary_statistics row: ok=%v err=%v", ok, err)
	}
	if summary.NoBlocks != 2 {
		t.Fatalf("expected no_blocks=2, got %d", summary.NoBlocks)
	}
}

func TestTickSecondRunIsIncrementalAndConfigurationStable(t *testing.T) {
	ctx := context.Background()
	raw := buildRaw(t)
	st := store.NewMemStore()
	opts := testOpts("")
	opts.WriteBatchSize = 1 // force two ticks over two blocks
	c := New(opts, raw, st, utxo.New(), silentLog())

	first, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	if first.ToHeight != 0 {
		t.Fatalf("expected first batch to stop at height 0, got %d", first.ToHeight)
	}

	second, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if second.FromHeight != 1 || second.ToHeight != 1 {
		t.Fatalf("expected second batch [1,1], got [%d,%d]", second.FromHeight, second.ToHeight)
	}

	third, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("third Tick: %v", err)
	}
	if !third.NoOp {
		t.Fatalf("expected the third tick to be a no-op, got %+v", third)
	}
}

func TestTickRejectsMismatchedConfiguration(t *testing.T) {
	ctx := context.Background()
	raw := buildRaw(t)
	st := store.NewMemStore()

	c1 := New(testOpts(""), raw, st, utxo.New(), silentLog())
	if _, err := c1.Tick(ctx); err != nil {
		t.Fatalf("bootstrap Tick: %v", err)
	}

	mismatched := testOpts("")
	mismatched.BucketSize = 2000
	c2 := New(mismatched, raw, st, utxo.New(), silentLog())
	if _, err := c2.Tick(ctx); err == nil {
		t.Fatalf("expected a configuration-mismatch error, got nil")
	}
}

// TestTickRecoversFromCrashBeforeStatusUpdate drives a batch through every
// stage up to and including WRITING, then simulates a crash by never
// calling commitStatus -- the scenario in spec.md §8 "Crash before
// status". A freshly constructed Coordinator, as a restarted process
// would build, must finish STATUS_UPDATE for the already-written batch
// without re-aggregating it: the address rows WRITING committed already
// reflect the batch's delta, so redoing PLANNING..WRITING would apply it
// twice.
func TestTickRecoversFromCrashBeforeStatusUpdate(t *testing.T) {
	ctx := context.Background()
	raw := buildRaw(t)
	st := store.NewMemStore()
	dataDir := t.TempDir()
	opts := testOpts(dataDir)

	c1 := New(opts, raw, st, utxo.New(), silentLog())
	if err := c1.bootstrapOrCheckConfiguration(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	fromHeight, toHeight, err := c1.plan(ctx)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	entry := logging.Batch(c1.log, opts.Currency, fromHeight, toHeight)
	bundles, err := c1.project(ctx, entry, fromHeight, toHeight)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	rows, totals, err := c1.aggregate(ctx, entry, bundles)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	lastTimestamp := bundles[len(bundles)-1].bundle.Block.Timestamp.Unix()
	if err := c1.write(ctx, entry, fromHeight, toHeight, rows, totals, lastTimestamp); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Crash simulated here: WRITING's BatchWrite committed, STATUS_UPDATE
	// never ran.

	xID, ok, err := st.GetAddressID(ctx, canon("x"))
	if err != nil || !ok {
		t.Fatalf("expected address x allocated after write: ok=%v err=%v", ok, err)
	}
	xRow, _, err := st.GetAddress(ctx, xID)
	if err != nil {
		t.Fatalf("GetAddress: %v", err)
	}
	spentAfterWrite := xRow.TotalSpent

	if _, hasStatus, err := st.GetStatus(ctx); err != nil || hasStatus {
		t.Fatalf("expected no status row before recovery: ok=%v err=%v", hasStatus, err)
	}

	c2 := New(opts, raw, st, utxo.New(), silentLog())
	result, err := c2.Tick(ctx)
	if err != nil {
		t.Fatalf("recovery Tick: %v", err)
	}
	if !result.NoOp {
		t.Fatalf("expected the recovery tick to report NoOp, got %+v", result)
	}

	statusRow, hasStatus, err := st.GetStatus(ctx)
	if err != nil || !hasStatus {
		t.Fatalf("expected status to be committed by recovery: ok=%v err=%v", hasStatus, err)
	}
	if statusRow.LastSyncedBlock != toHeight {
		t.Fatalf("expected last_synced_block=%d, got %d", toHeight, statusRow.LastSyncedBlock)
	}

	if _, stillThere, err := status.ReadRunMeta(dataDir, opts.Currency); err != nil || stillThere {
		t.Fatalf("expected the run breadcrumb to be cleared: ok=%v err=%v", stillThere, err)
	}

	xRowAfter, _, err := st.GetAddress(ctx, xID)
	if err != nil {
		t.Fatalf("GetAddress after recovery: %v", err)
	}
	if xRowAfter.TotalSpent.Native.Cmp(spentAfterWrite.Native) != 0 {
		t.Fatalf("recovery must not double-apply the batch's delta: before=%v after=%v",
			spentAfterWrite.Native, xRowAfter.TotalSpent.Native)
	}

	next, err := c2.Tick(ctx)
	if err != nil {
		t.Fatalf("post-recovery Tick: %v", err)
	}
	if !next.NoOp {
		t.Fatalf("expected nothing left to process after recovery, got %+v", next)
	}
}
