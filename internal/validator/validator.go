// Package validator implements the Validator (C10): periodic
// cross-checks of stored aggregates against a from-scratch re-derivation
// of the raw ledger, and a symmetry spot-check over touched relations
// (spec.md §4.10).
package validator

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"

	"graphsense.dev/deltaupdater/internal/errs"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
	"graphsense.dev/deltaupdater/internal/rawstore"
	"graphsense.dev/deltaupdater/internal/store"
)

// Config bounds one Validate call.
type Config struct {
	// SampleSize is the number of addresses to re-derive and compare;
	// capped at the number of addresses that actually exist.
	SampleSize int
	// FetchChunk bounds how many blocks are pulled from the raw store
	// per FetchRange call while re-deriving (spec.md §4.1 ranged reads).
	FetchChunk int64
	// Rand drives address sampling; nil uses a fresh, unseeded source.
	Rand *rand.Rand
}

// Result summarizes one Validate run.
type Result struct {
	SampledAddresses  int
	CheckedRelations  int
	RelationMismatches int
}

// recomputed is the accumulator re-derived from a full raw scan, for one
// sampled address.
type recomputed struct {
	noIncoming, noOutgoing         int64
	noIncomingZero, noOutgoingZero int64
	inDegree, outDegree            int64
	received, spent                *big.Int
	isContract                     bool
}

func newRecomputed() *recomputed {
	return &recomputed{received: big.NewInt(0), spent: big.NewInt(0)}
}

// Validate re-derives a random sample of addresses from raw block range
// [0, H] (H = the transformed keyspace's highest synced block) using
// proj, and compares the recomputed counters to the stored rows. It also
// spot-checks outgoing/incoming relation symmetry for every relation
// touched by the sample, when st implements
// store.RelationSymmetryReader. The first divergence does not stop the
// scan: Validate keeps going and returns every mismatch found, wrapped
// as errs.Divergence.
func Validate(ctx context.Context, raw rawstore.Store, st store.Store, proj projector.Projector, cfg Config) (Result, []error, error) {
	var result Result

	highestBlock, err := st.GetHighestBlock(ctx)
	if err != nil {
		return result, nil, fmt.Errorf("validator: read highest block: %w", err)
	}
	if highestBlock < 0 {
		return result, nil, nil
	}
	highestAddr, err := st.GetHighestAddressID(ctx)
	if err != nil {
		return result, nil, fmt.Errorf("validator: read highest address id: %w", err)
	}
	if highestAddr < 0 {
		return result, nil, nil
	}

	sampleIDs := sampleAddressIDs(cfg.Rand, highestAddr, cfg.SampleSize)
	sampled := make(map[string]model.AddressID, len(sampleIDs)) // canonical bytes -> id
	stored := make(map[model.AddressID]*model.Address, len(sampleIDs))
	for _, id := range sampleIDs {
		row, ok, err := st.GetAddress(ctx, id)
		if err != nil {
			return result, nil, fmt.Errorf("validator: read address %d: %w", id, err)
		}
		if !ok {
			continue
		}
		sampled[string(row.Canonical.Bytes)] = id
		stored[id] = row
	}
	result.SampledAddresses = len(stored)
	if len(stored) == 0 {
		return result, nil, nil
	}

	acc := make(map[model.AddressID]*recomputed, len(stored))
	for id := range stored {
		acc[id] = newRecomputed()
	}
	edgeFirstSeen := make(map[relationEdgeKey]bool)
	touchedRelations := make(map[model.RelationKey]struct{})

	chunk := cfg.FetchChunk
	if chunk <= 0 {
		chunk = 5000
	}
	for start := int64(0); start <= highestBlock; start += chunk {
		end := start + chunk - 1
		if end > highestBlock {
			end = highestBlock
		}
		bundles, err := raw.FetchRange(ctx, start, end)
		if err != nil {
			return result, nil, fmt.Errorf("validator: fetch range [%d,%d]: %w", start, end, err)
		}
		for _, bundle := range bundles {
			projection, err := proj.Project(bundle)
			if err != nil {
				return result, nil, fmt.Errorf("validator: project height %d: %w", bundle.Block.Height, err)
			}
			foldAddressEvents(projection.AddressEvents, sampled, acc)
			foldRelationEvents(projection.RelationEvents, sampled, acc, edgeFirstSeen, touchedRelations)
		}
	}

	var diverged []error
	for id, row := range stored {
		got := acc[id]
		if got == nil {
			continue
		}
		diverged = append(diverged, compareAddress(id, row, got)...)
	}

	symReader, _ := st.(store.RelationSymmetryReader)
	for key := range touchedRelations {
		result.CheckedRelations++
		out, ok, err := st.GetRelation(ctx, key)
		if err != nil {
			return result, diverged, fmt.Errorf("validator: read outgoing relation %+v: %w", key, err)
		}
		if symReader == nil {
			continue
		}
		in, inOK, err := symReader.GetIncomingRelation(ctx, key)
		if err != nil {
			return result, diverged, fmt.Errorf("validator: read incoming relation %+v: %w", key, err)
		}
		if ok != inOK {
			result.RelationMismatches++
			diverged = append(diverged, errs.Wrap(errs.Divergence,
				fmt.Sprintf("relation %+v: outgoing present=%v incoming present=%v", key, ok, inOK), nil))
			continue
		}
		if ok && inOK && (out.NoTransactions != in.NoTransactions || out.ValueSum.Native.Cmp(in.ValueSum.Native) != 0) {
			result.RelationMismatches++
			diverged = append(diverged, errs.Wrap(errs.Divergence,
				fmt.Sprintf("relation %+v: outgoing {tx=%d val=%s} != incoming {tx=%d val=%s}",
					key, out.NoTransactions, out.ValueSum.Native, in.NoTransactions, in.ValueSum.Native), nil))
		}
	}

	return result, diverged, nil
}

func sampleAddressIDs(r *rand.Rand, highestAddr model.AddressID, sampleSize int) []model.AddressID {
	if r == nil {
		r = rand.New(rand.NewSource(1))
	}
	population := int(highestAddr) + 1
	if sampleSize <= 0 {
		return nil
	}
	if sampleSize >= population {
		out := make([]model.AddressID, population)
		for i := range out {
			out[i] = model.AddressID(i)
		}
		return out
	}
	seen := make(map[model.AddressID]bool, sampleSize)
	out := make([]model.AddressID, 0, sampleSize)
	for len(out) < sampleSize {
		id := model.AddressID(r.Intn(population))
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func foldAddressEvents(events []projector.AddressTxEvent, sampled map[string]model.AddressID, acc map[model.AddressID]*recomputed) {
	for _, ev := range events {
		id, ok := sampled[string(ev.Address.Bytes)]
		if !ok {
			continue
		}
		a := acc[id]
		switch ev.Direction {
		case projector.Incoming:
			if ev.ZeroValue {
				a.noIncomingZero++
			} else {
				a.noIncoming++
				a.received.Add(a.received, ev.Value.Native)
			}
		case projector.Outgoing:
			if ev.ZeroValue {
				a.noOutgoingZero++
			} else {
				a.noOutgoing++
				a.spent.Add(a.spent, ev.Value.Native)
			}
		}
		if ev.IsContract {
			a.isContract = true
		}
	}
}

// relationEdgeKey identifies a (src, dst, token) edge by address bytes
// rather than assigned id, since a validator sample may include only one
// endpoint of an edge (the other address was never allocated an id we
// know, or simply wasn't sampled).
type relationEdgeKey struct {
	src, dst string
	token    model.TokenKey
}

func foldRelationEvents(
	events []projector.RelationEvent,
	sampled map[string]model.AddressID,
	acc map[model.AddressID]*recomputed,
	edgeFirstSeen map[relationEdgeKey]bool,
	touched map[model.RelationKey]struct{},
) {
	for _, ev := range events {
		srcID, srcOK := sampled[string(ev.Src.Bytes)]
		dstID, dstOK := sampled[string(ev.Dst.Bytes)]
		if !srcOK && !dstOK {
			continue
		}
		edge := relationEdgeKey{src: string(ev.Src.Bytes), dst: string(ev.Dst.Bytes), token: ev.Token}
		if !edgeFirstSeen[edge] {
			edgeFirstSeen[edge] = true
			if srcOK {
				acc[srcID].outDegree++
			}
			if dstOK {
				acc[dstID].inDegree++
			}
		}
		if srcOK && dstOK {
			touched[model.RelationKey{Src: srcID, Dst: dstID, Token: ev.Token}] = struct{}{}
		}
	}
}

func compareAddress(id model.AddressID, stored *model.Address, got *recomputed) []error {
	var out []error
	check := func(field string, storedV, gotV int64) {
		if storedV != gotV {
			out = append(out, errs.Wrap(errs.Divergence,
				fmt.Sprintf("address %d %s: stored=%d got=%d", id, field, storedV, gotV), nil))
		}
	}
	check("no_incoming_txs", stored.NoIncomingTxs, got.noIncoming)
	check("no_outgoing_txs", stored.NoOutgoingTxs, got.noOutgoing)
	check("no_incoming_txs_zero_value", stored.NoIncomingTxsZeroValue, got.noIncomingZero)
	check("no_outgoing_txs_zero_value", stored.NoOutgoingTxsZeroValue, got.noOutgoingZero)
	check("in_degree", stored.InDegree, got.inDegree)
	check("out_degree", stored.OutDegree, got.outDegree)
	if stored.TotalReceived.Native.Cmp(got.received) != 0 {
		out = append(out, errs.Wrap(errs.Divergence,
			fmt.Sprintf("address %d total_received: stored=%s got=%s", id, stored.TotalReceived.Native, got.received), nil))
	}
	if stored.TotalSpent.Native.Cmp(got.spent) != 0 {
		out = append(out, errs.Wrap(errs.Divergence,
			fmt.Sprintf("address %d total_spent: stored=%s got=%s", id, stored.TotalSpent.Native, got.spent), nil))
	}
	if stored.IsContract != got.isContract && got.isContract {
		out = append(out, errs.Wrap(errs.Divergence,
			fmt.Sprintf("address %d is_contract: stored=%v got=%v", id, stored.IsContract, got.isContract), nil))
	}
	return out
}
