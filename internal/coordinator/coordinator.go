// Package coordinator implements the Batch Writer/Coordinator (C8): the
// per-currency state machine that drives one delta-update tick from
// PLANNING through STATUS_UPDATE, wiring C1-C7 and C9 together (spec.md
// §2, §4.8).
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"graphsense.dev/deltaupdater/internal/aggregate"
	"graphsense.dev/deltaupdater/internal/errs"
	"graphsense.dev/deltaupdater/internal/idalloc"
	"graphsense.dev/deltaupdater/internal/logging"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
	"graphsense.dev/deltaupdater/internal/rates"
	"graphsense.dev/deltaupdater/internal/rawstore"
	"graphsense.dev/deltaupdater/internal/status"
	"graphsense.dev/deltaupdater/internal/store"
)

// Stage names, matching the state machine in spec.md §4.8 and
// logged via internal/logging's Stage field.
const (
	StagePlanning     = "PLANNING"
	StageProjecting   = "PROJECTING"
	StageAggregating  = "AGGREGATING"
	StageWriting      = "WRITING"
	StageStatusUpdate = "STATUS_UPDATE"
)

// Options configures one Coordinator. The bucketing fields and
// FiatCurrencies must match the keyspace's persisted Configuration row;
// SchemaType and NativeDecimals are not part of that row.
type Options struct {
	Currency       string
	SchemaType     model.SchemaType
	WriteBatchSize int64 // blocks per tick, not rows (spec.md §4 "batch_size")
	SafetyMargin   int64
	ForwardFill    bool
	FiatCurrencies []string
	NativeDecimals int

	// Expected bucketing configuration; bootstrapped on first run,
	// asserted to match on every later run (SPEC_FULL.md "configuration
	// bootstrap").
	BucketSize               int
	TxPrefixLength            int
	AddressPrefixLength      int
	RelationSecondaryBuckets int

	DataDir string // for the status.RunMeta crash-recovery breadcrumb
}

// Coordinator drives one currency's delta-update loop. Construct one per
// currency; it is not safe for concurrent use (spec.md §5 "single
// coordinator task per currency").
type Coordinator struct {
	opts  Options
	raw   rawstore.Store
	st    store.Store
	proj  projector.Projector
	log   *logrus.Logger
}

func New(opts Options, raw rawstore.Store, st store.Store, proj projector.Projector, log *logrus.Logger) *Coordinator {
	return &Coordinator{opts: opts, raw: raw, st: st, proj: proj, log: log}
}

// TickResult reports what one Tick accomplished.
type TickResult struct {
	NoOp       bool // no new batch: already at tip (minus safety margin), or only a crashed run's status commit was replayed
	FromHeight int64
	ToHeight   int64
	Totals     aggregate.Totals
}

// Tick runs exactly one batch through PLANNING -> STATUS_UPDATE, or
// returns a NoOp result if the keyspace is already caught up to
// tip-safety_margin. ctx is checked at every stage transition (spec.md
// §5 "cancellation checked at every state transition"); a batch
// cancelled between PROJECTING and STATUS_UPDATE is discarded and the
// status row is left unadvanced.
func (c *Coordinator) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	startedAt := time.Now()

	if err := c.bootstrapOrCheckConfiguration(ctx); err != nil {
		return result, err
	}

	recovered, err := c.recoverIncompleteRun(ctx)
	if err != nil {
		return result, err
	}
	if recovered {
		result.NoOp = true
		return result, nil
	}

	fromHeight, toHeight, err := c.plan(ctx)
	if err != nil {
		return result, err
	}
	result.FromHeight, result.ToHeight = fromHeight, toHeight
	if toHeight < fromHeight {
		result.NoOp = true
		return result, nil
	}
	entry := logging.Stage(logging.Batch(c.log, c.opts.Currency, fromHeight, toHeight), StagePlanning)
	entry.Info("planned batch")

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	bundles, err := c.project(ctx, entry, fromHeight, toHeight)
	if err != nil {
		return result, err
	}

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	rows, totals, err := c.aggregate(ctx, entry, bundles)
	if err != nil {
		return result, err
	}
	result.Totals = totals

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	var lastTimestamp int64
	if len(bundles) > 0 {
		lastTimestamp = bundles[len(bundles)-1].bundle.Block.Timestamp.Unix()
	}

	if err := c.write(ctx, entry, fromHeight, toHeight, rows, totals, lastTimestamp); err != nil {
		return result, err
	}

	if err := checkCancelled(ctx); err != nil {
		return result, err
	}

	if err := c.commitStatus(ctx, entry, toHeight, lastTimestamp, startedAt); err != nil {
		return result, err
	}

	return result, nil
}

// recoverIncompleteRun finishes a crashed run, if any, before planning a
// new batch (spec.md §7 "Crash recovery"). WRITING commits a batch's
// address/relation/summary rows via one atomic BatchWrite, so if the
// breadcrumb survives into this invocation, that commit already happened
// -- re-running PLANNING..WRITING for the same range would re-read those
// now-updated rows and fold the batch's delta into them a second time
// (spec.md §9 "Idempotency"). Only the missing STATUS_UPDATE commit is
// replayed; nothing upstream of it is redone.
func (c *Coordinator) recoverIncompleteRun(ctx context.Context) (bool, error) {
	if c.opts.DataDir == "" {
		return false, nil
	}
	meta, ok, err := status.ReadRunMeta(c.opts.DataDir, c.opts.Currency)
	if err != nil {
		return false, fmt.Errorf("coordinator: read run breadcrumb: %w", err)
	}
	if !ok {
		return false, nil
	}

	st, hasStatus, err := c.st.GetStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("coordinator: read status: %w", err)
	}
	if hasStatus && st.LastSyncedBlock >= meta.ToHeight {
		// status already advanced past this batch: the crash happened
		// after commitStatus but before ClearRunMeta. Just clear the
		// stale breadcrumb.
		return false, status.ClearRunMeta(c.opts.DataDir, c.opts.Currency)
	}

	entry := logging.Stage(logging.Batch(c.log, c.opts.Currency, meta.FromHeight, meta.ToHeight), StageStatusUpdate)
	entry.Warn("resuming crashed run: replaying status commit for an already-written batch")
	startedAt := time.Unix(meta.StartedUnix, 0)
	if err := c.commitStatus(ctx, entry, meta.ToHeight, meta.LastTimestamp, startedAt); err != nil {
		return false, err
	}
	return true, nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "batch cancelled", ctx.Err())
	default:
		return nil
	}
}

// bootstrapOrCheckConfiguration implements SPEC_FULL.md's "configuration
// bootstrap" supplemented feature: written once, asserted forever after.
func (c *Coordinator) bootstrapOrCheckConfiguration(ctx context.Context) error {
	cfg, ok, err := c.st.GetConfiguration(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: read configuration: %w", err)
	}
	want := store.Configuration{
		BucketSize:               c.opts.BucketSize,
		TxPrefixLength:           c.opts.TxPrefixLength,
		AddressPrefixLength:      c.opts.AddressPrefixLength,
		RelationSecondaryBuckets: c.opts.RelationSecondaryBuckets,
		FiatCurrencies:           c.opts.FiatCurrencies,
	}
	if !ok {
		if err := c.st.PutConfiguration(ctx, want); err != nil {
			return fmt.Errorf("coordinator: bootstrap configuration: %w", err)
		}
		return nil
	}
	if !configurationsMatch(*cfg, want) {
		return errs.Wrap(errs.InvariantViolation,
			fmt.Sprintf("configuration mismatch: stored=%+v want=%+v", *cfg, want), nil)
	}
	return nil
}

func configurationsMatch(a, b store.Configuration) bool {
	if a.BucketSize != b.BucketSize || a.TxPrefixLength != b.TxPrefixLength ||
		a.AddressPrefixLength != b.AddressPrefixLength || a.RelationSecondaryBuckets != b.RelationSecondaryBuckets {
		return false
	}
	if len(a.FiatCurrencies) != len(b.FiatCurrencies) {
		return false
	}
	for i := range a.FiatCurrencies {
		if a.FiatCurrencies[i] != b.FiatCurrencies[i] {
			return false
		}
	}
	return true
}

// plan implements the PLANNING stage: asks C9 (via GetStatus) for the
// last-synced height and C1 for tip-safety_margin, and bounds the batch
// to WriteBatchSize blocks.
func (c *Coordinator) plan(ctx context.Context) (fromHeight, toHeight int64, err error) {
	st, ok, err := c.st.GetStatus(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("coordinator: read status: %w", err)
	}
	fromHeight = int64(0)
	if ok {
		fromHeight = st.LastSyncedBlock + 1
	}

	maxHeight, err := rawstore.TipWithMargin(ctx, c.raw, c.opts.SafetyMargin)
	if err != nil {
		return 0, 0, fmt.Errorf("coordinator: read raw tip: %w", err)
	}
	toHeight = maxHeight
	if c.opts.WriteBatchSize > 0 && fromHeight+c.opts.WriteBatchSize-1 < toHeight {
		toHeight = fromHeight + c.opts.WriteBatchSize - 1
	}
	return fromHeight, toHeight, nil
}

// project implements PROJECTING: fetches the range from C1, assigns tx
// ids in block order (spec.md §4.3 "tx_id assigned at projection time"),
// and runs C5/C6 over each bundle.
func (c *Coordinator) project(ctx context.Context, log *logrus.Entry, fromHeight, toHeight int64) ([]bundleWithProjection, error) {
	log = logging.Stage(log, StageProjecting)
	bundles, err := c.raw.FetchRange(ctx, fromHeight, toHeight)
	if err != nil {
		return nil, fmt.Errorf("coordinator: fetch range [%d,%d]: %w", fromHeight, toHeight, err)
	}

	if err := c.assignTxIDs(ctx, bundles); err != nil {
		return nil, err
	}

	out := make([]bundleWithProjection, 0, len(bundles))
	for _, b := range bundles {
		p, err := c.proj.Project(b)
		if err != nil {
			return nil, fmt.Errorf("coordinator: project height %d: %w", b.Block.Height, err)
		}
		out = append(out, bundleWithProjection{bundle: b, projection: p})
	}
	log.WithField("blocks", len(bundles)).Info("projected batch")
	return out, nil
}

type bundleWithProjection struct {
	bundle     model.BlockBundle
	projection projector.Projection
}

// assignTxIDs fills in TxID on every transaction in bundles, in block
// order, before projection (spec.md §4.3): UTXO ledgers draw from a
// sequential counter seeded from the store's high-water mark; account
// ledgers resolve ids by hash through a TxAllocator, since the same hash
// may recur across a reorg-free but previously-seen range.
func (c *Coordinator) assignTxIDs(ctx context.Context, bundles []model.BlockBundle) error {
	switch c.opts.SchemaType {
	case model.SchemaUTXO:
		hw, err := c.st.GetHighestTxID(ctx)
		if err != nil {
			return fmt.Errorf("coordinator: read tx high-water mark: %w", err)
		}
		next := hw + 1
		for i := range bundles {
			for j := range bundles[i].UTXOTxs {
				bundles[i].UTXOTxs[j].TxID = next
				next++
			}
		}
	case model.SchemaAccount:
		txAlloc, err := idalloc.NewTxAllocator(ctx, c.st)
		if err != nil {
			return fmt.Errorf("coordinator: init tx allocator: %w", err)
		}
		var hashes []string
		for i := range bundles {
			for j := range bundles[i].AccountTxs {
				hashes = append(hashes, bundles[i].AccountTxs[j].Hash)
			}
		}
		allocs, err := txAlloc.Allocate(ctx, hashes)
		if err != nil {
			return fmt.Errorf("coordinator: allocate tx ids: %w", err)
		}
		idByHash := make(map[string]model.TxID, len(allocs))
		for _, a := range allocs {
			idByHash[a.Hash] = a.ID
		}
		for i := range bundles {
			for j := range bundles[i].AccountTxs {
				bundles[i].AccountTxs[j].TxID = idByHash[bundles[i].AccountTxs[j].Hash]
			}
		}
	default:
		return errs.Wrap(errs.InvariantViolation, fmt.Sprintf("unknown schema type %q", c.opts.SchemaType), nil)
	}
	return nil
}

// aggregate implements AGGREGATING: attaches fiat rates and folds every
// bundle's projection into the batch's RowOp set via C3/C4/C7.
func (c *Coordinator) aggregate(ctx context.Context, log *logrus.Entry, bundles []bundleWithProjection) ([]store.RowOp, aggregate.Totals, error) {
	log = logging.Stage(log, StageAggregating)
	var totals aggregate.Totals
	if len(bundles) == 0 {
		return nil, totals, nil
	}

	fromHeight := bundles[0].bundle.Block.Height
	toHeight := bundles[len(bundles)-1].bundle.Block.Height

	fiatWidth := len(c.opts.FiatCurrencies)
	var attacher *rates.Attacher
	if fiatWidth > 0 {
		onGap := func(height, filledFrom int64) {
			log.WithFields(logrus.Fields{"height": height, "filled_from": filledFrom}).Warn("forward-filled exchange rate gap")
		}
		var err error
		attacher, err = rates.New(ctx, c.raw, fromHeight, toHeight, c.opts.ForwardFill, fiatWidth, onGap)
		if err != nil {
			return nil, totals, fmt.Errorf("coordinator: snapshot rates: %w", err)
		}
	}

	addrAlloc, err := idalloc.New(ctx, c.st)
	if err != nil {
		return nil, totals, fmt.Errorf("coordinator: init address allocator: %w", err)
	}
	agg, err := aggregate.New(ctx, c.st, fiatWidth, c.opts.NativeDecimals)
	if err != nil {
		return nil, totals, fmt.Errorf("coordinator: init aggregator: %w", err)
	}

	rawBundles := make([]model.BlockBundle, len(bundles))
	projections := make([]projector.Projection, len(bundles))
	for i, b := range bundles {
		rawBundles[i] = b.bundle
		projections[i] = b.projection
	}

	rows, totals, err := agg.Aggregate(ctx, addrAlloc, rawBundles, projections, attacher)
	if err != nil {
		return nil, totals, fmt.Errorf("coordinator: aggregate batch: %w", err)
	}
	log.WithFields(logrus.Fields{
		"rows": len(rows), "new_addresses": totals.NoAddresses, "new_relations": totals.NoAddressRelations,
	}).Info("aggregated batch")
	return rows, totals, nil
}

// write implements WRITING: hands the batch's rows, plus the refreshed
// denormalized summary_statistics row, to C2 (which internally chunks and
// retries), and records the crash-recovery breadcrumb only once that
// write has returned successfully.
func (c *Coordinator) write(ctx context.Context, log *logrus.Entry, fromHeight, toHeight int64, rows []store.RowOp, totals aggregate.Totals, lastTimestamp int64) error {
	log = logging.Stage(log, StageWriting)

	summaryRow, err := c.nextSummaryRow(ctx, totals, lastTimestamp)
	if err != nil {
		return err
	}
	rows = append(rows, summaryRow)

	if err := c.st.BatchWrite(ctx, rows); err != nil {
		return fmt.Errorf("coordinator: batch write: %w", err)
	}
	log.WithField("rows", len(rows)).Info("wrote batch")

	if c.opts.DataDir != "" {
		meta := status.RunMeta{
			RunID: status.NewRunID(), Currency: c.opts.Currency, StartedUnix: time.Now().Unix(),
			FromHeight: fromHeight, ToHeight: toHeight, Stage: StageWriting, LastTimestamp: lastTimestamp,
		}
		if err := status.WriteRunMeta(c.opts.DataDir, meta); err != nil {
			return fmt.Errorf("coordinator: write run breadcrumb: %w", err)
		}
	}
	return nil
}

// nextSummaryRow folds this batch's Totals onto the persisted
// summary_statistics row (SPEC_FULL.md "summary_statistics row
// maintenance").
func (c *Coordinator) nextSummaryRow(ctx context.Context, totals aggregate.Totals, lastTimestamp int64) (store.RowOp, error) {
	existing, ok, err := c.st.GetSummaryStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("coordinator: read summary statistics: %w", err)
	}
	var prev store.SummaryStatistics
	if ok {
		prev = *existing
	}
	return store.SummaryStatisticsRow{
		NoBlocks:           prev.NoBlocks + totals.NoBlocks,
		NoTxs:              prev.NoTxs + totals.NoTxs,
		NoAddresses:        prev.NoAddresses + totals.NoAddresses,
		NoAddressRelations: prev.NoAddressRelations + totals.NoAddressRelations,
		TimestampUnix:      lastTimestamp,
	}, nil
}

// commitStatus implements STATUS_UPDATE: the single durable commit point
// after which the batch is considered complete and safe to never retry
// (spec.md §4.8, §9 "idempotency").
func (c *Coordinator) commitStatus(ctx context.Context, log *logrus.Entry, toHeight, lastTimestamp int64, startedAt time.Time) error {
	log = logging.Stage(log, StageStatusUpdate)

	hw, err := c.st.GetHighestAddressID(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: read address high-water mark: %w", err)
	}

	_, hadPriorStatus, err := c.st.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: read prior status: %w", err)
	}

	row := store.StatusRow{
		Keyspace:            c.opts.Currency,
		LastSyncedBlock:      toHeight,
		LastSyncedTimestamp: lastTimestamp,
		HighestAddressID:     int32(hw),
		RunTimestamp:         time.Now().Unix(),
		WriteNew:             !hadPriorStatus,
		WriteDirty:           false,
		RuntimeSeconds:       time.Since(startedAt).Seconds(),
		RunID:                status.NewRunID(),
	}
	if err := c.st.CommitStatus(ctx, row); err != nil {
		return fmt.Errorf("coordinator: commit status: %w", err)
	}

	if c.opts.DataDir != "" {
		if err := status.ClearRunMeta(c.opts.DataDir, c.opts.Currency); err != nil {
			return fmt.Errorf("coordinator: clear run breadcrumb: %w", err)
		}
	}
	log.WithField("last_synced_block", toHeight).Info("committed status")
	return nil
}
