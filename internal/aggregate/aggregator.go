// Package aggregate implements the Delta Aggregator (C7): it folds the
// per-tx deltas emitted by a projector into batch-scoped accumulators,
// resolves them against the current transformed-keyspace state, and
// emits the deterministic set of RowOps the batch writer (C8/C2) commits
// (spec.md §4.7).
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"graphsense.dev/deltaupdater/internal/idalloc"
	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
	"graphsense.dev/deltaupdater/internal/rates"
	"graphsense.dev/deltaupdater/internal/store"
)

// Aggregator folds one batch's Projections into RowOps. Construct one per
// batch; it is not safe for concurrent use.
type Aggregator struct {
	st            store.Store
	fiatWidth     int
	nativeDecimals int
	nextEntityID  int32
}

func New(ctx context.Context, st store.Store, fiatWidth, nativeDecimals int) (*Aggregator, error) {
	hw, err := st.GetHighestEntityID(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate: read entity high-water mark: %w", err)
	}
	return &Aggregator{st: st, fiatWidth: fiatWidth, nativeDecimals: nativeDecimals, nextEntityID: int32(hw) + 1}, nil
}

// Totals summarizes one batch's contribution to summary_statistics
// (SPEC_FULL.md "summary_statistics row maintenance").
type Totals struct {
	NoBlocks           int64
	NoTxs              int64
	NoAddresses        int64
	NoAddressRelations int64
}

// addressDelta is the batch-scoped accumulator for one address, folded
// from every AddressTxEvent touching it before being merged into the
// address's persisted row.
type addressDelta struct {
	noIncoming, noOutgoing         int64
	noIncomingZero, noOutgoingZero int64
	inDegree, outDegree            int64
	inDegreeZero, outDegreeZero    int64
	received, spent                model.CurrencyValue
	tokenReceived, tokenSpent       map[model.TokenKey]model.CurrencyValue
	firstTx, lastTx                 model.TxID
	hasTx                           bool
	isContract                      bool
}

func newAddressDelta(fiatWidth int) *addressDelta {
	return &addressDelta{
		received:      model.ZeroCurrencyValue(fiatWidth),
		spent:         model.ZeroCurrencyValue(fiatWidth),
		tokenReceived: make(map[model.TokenKey]model.CurrencyValue),
		tokenSpent:    make(map[model.TokenKey]model.CurrencyValue),
	}
}

func (d *addressDelta) observeTx(id model.TxID) {
	if !d.hasTx {
		d.firstTx, d.lastTx, d.hasTx = id, id, true
		return
	}
	if id < d.firstTx {
		d.firstTx = id
	}
	if id > d.lastTx {
		d.lastTx = id
	}
}

// relationDelta is the batch-scoped accumulator for one (src, dst, token)
// edge.
type relationDelta struct {
	txs       map[model.TxID]bool
	valueSum  model.CurrencyValue
}

// Aggregate folds projections (one per bundle, in bundle order) plus
// their source bundles into the deterministic RowOp list for the batch.
// addrAlloc must already be seeded for this batch (spec.md §4.3); txs in
// bundles must already carry assigned TxIDs.
func (a *Aggregator) Aggregate(
	ctx context.Context,
	addrAlloc *idalloc.AddressAllocator,
	bundles []model.BlockBundle,
	projections []projector.Projection,
	attacher *rates.Attacher,
) ([]store.RowOp, Totals, error) {
	var totals Totals
	totals.NoBlocks = int64(len(bundles))

	var allAddrs []model.CanonicalAddress
	for _, p := range projections {
		allAddrs = append(allAddrs, p.NewAddressOrder...)
	}
	allocations, err := addrAlloc.Allocate(ctx, allAddrs)
	if err != nil {
		return nil, totals, fmt.Errorf("aggregate: allocate addresses: %w", err)
	}
	addrID := make(map[string]model.AddressID, len(allocations))
	addrCanon := make(map[model.AddressID]model.CanonicalAddress, len(allocations))
	var rows []store.RowOp
	for _, alloc := range allocations {
		addrID[string(alloc.Address.Bytes)] = alloc.ID
		addrCanon[alloc.ID] = alloc.Address
		if alloc.IsNew {
			totals.NoAddresses++
			rows = append(rows, store.AddressIDIndexRow{Address: alloc.Address, ID: alloc.ID})
		}
	}
	resolve := func(c model.CanonicalAddress) model.AddressID { return addrID[string(c.Bytes)] }

	addrDeltas := make(map[model.AddressID]*addressDelta)
	getAddrDelta := func(id model.AddressID) *addressDelta {
		d, ok := addrDeltas[id]
		if !ok {
			d = newAddressDelta(a.fiatWidth)
			addrDeltas[id] = d
		}
		return d
	}

	type touchKey struct {
		addr model.AddressID
		tx   model.TxID
		dir  projector.Direction
	}
	touched := make(map[touchKey]bool) // true once any nonzero, non-fee event seen for the key
	touchSeen := make(map[touchKey]bool)

	type txRowKey struct {
		addr     model.AddressID
		outgoing bool
		token    model.TokenKey
		tx       model.TxID
	}
	txRows := make(map[txRowKey]*store.AddressTransactionRow)

	relDeltas := make(map[model.RelationKey]*relationDelta)
	getRelDelta := func(k model.RelationKey) *relationDelta {
		rd, ok := relDeltas[k]
		if !ok {
			rd = &relationDelta{txs: make(map[model.TxID]bool), valueSum: model.ZeroCurrencyValue(a.fiatWidth)}
			relDeltas[k] = rd
		}
		return rd
	}

	for _, p := range projections {
		for _, ev := range p.AddressEvents {
			totals.NoTxs++ // overcounts across multiple events per tx; refined below
			id := resolve(ev.Address)
			d := getAddrDelta(id)

			v := ev.Value
			if ev.Token == model.NativeToken {
				if err := a.attachNative(attacher, &v, ev.BlockHeight); err != nil {
					return nil, totals, err
				}
			}

			switch ev.Direction {
			case projector.Incoming:
				if ev.Token == model.NativeToken {
					d.received = d.received.Add(v)
				} else {
					d.tokenReceived[ev.Token] = zeroIfAbsent(d.tokenReceived, ev.Token, a.fiatWidth).Add(v)
				}
			case projector.Outgoing:
				if ev.Token == model.NativeToken {
					d.spent = d.spent.Add(v)
				} else {
					d.tokenSpent[ev.Token] = zeroIfAbsent(d.tokenSpent, ev.Token, a.fiatWidth).Add(v)
				}
			}
			d.observeTx(ev.TxID)
			d.isContract = d.isContract || ev.IsContract

			tk := touchKey{addr: id, tx: ev.TxID, dir: ev.Direction}
			touchSeen[tk] = true
			if !ev.ZeroValue && !ev.Fee {
				touched[tk] = true
			}

			rk := txRowKey{addr: id, outgoing: ev.Direction == projector.Outgoing, token: ev.Token, tx: ev.TxID}
			row, ok := txRows[rk]
			if !ok {
				row = &store.AddressTransactionRow{
					Address: id, Outgoing: rk.outgoing, Token: ev.Token, TxID: ev.TxID, BlockHeight: ev.BlockHeight,
					Value: model.ZeroCurrencyValue(a.fiatWidth),
				}
				txRows[rk] = row
			}
			row.Value = row.Value.Add(v)
		}

		for _, rel := range p.RelationEvents {
			srcID, dstID := resolve(rel.Src), resolve(rel.Dst)
			key := model.RelationKey{Src: srcID, Dst: dstID, Token: rel.Token}
			rd := getRelDelta(key)
			v := rel.Value
			if rel.Token == model.NativeToken {
				if err := a.attachNative(attacher, &v, rel.BlockHeight); err != nil {
					return nil, totals, err
				}
			}
			rd.valueSum = rd.valueSum.Add(v)
			rd.txs[rel.TxID] = true
		}
	}

	// no_*_txs counts every touched (address, tx, direction); the
	// _zero_value counters are a subset of it, not a disjoint bucket, so
	// that a tx with a real transfer plus a fee-only touch still counts
	// once toward the total (spec.md §4.7).
	for k := range touchSeen {
		d := getAddrDelta(k.addr)
		nonZero := touched[k]
		switch k.dir {
		case projector.Incoming:
			d.noIncoming++
			if !nonZero {
				d.noIncomingZero++
			}
		case projector.Outgoing:
			d.noOutgoing++
			if !nonZero {
				d.noOutgoingZero++
			}
		}
	}

	// Correct the coarse NoTxs estimate: count distinct (block, tx) pairs
	// instead of one per address-event.
	distinctTx := make(map[model.TxID]bool)
	for _, bundle := range bundles {
		for _, tx := range bundle.UTXOTxs {
			distinctTx[tx.TxID] = true
		}
		for _, tx := range bundle.AccountTxs {
			distinctTx[tx.TxID] = true
		}
	}
	totals.NoTxs = int64(len(distinctTx))

	relRows, relTotals, err := a.resolveRelations(ctx, relDeltas, getAddrDelta)
	if err != nil {
		return nil, totals, err
	}
	totals.NoAddressRelations = relTotals
	rows = append(rows, relRows...)

	addrRows, err := a.resolveAddresses(ctx, addrDeltas, addrCanon)
	if err != nil {
		return nil, totals, err
	}
	rows = append(rows, addrRows...)

	for _, row := range txRows {
		rows = append(rows, *row)
	}

	for _, bundle := range bundles {
		rows = append(rows, blockTransactionRow(bundle))
		if attacher != nil {
			if rateVec, err := attacher.RatesAt(bundle.Block.Height); err == nil {
				rows = append(rows, store.ExchangeRateRow{BlockHeight: bundle.Block.Height, Rates: rateVec})
			}
		}
	}

	var unions []projector.EntityUnion
	for _, p := range projections {
		unions = append(unions, p.EntityUnions...)
	}
	entityRows, err := a.resolveEntities(ctx, unions, resolve)
	if err != nil {
		return nil, totals, err
	}
	rows = append(rows, entityRows...)

	return rows, totals, nil
}

func (a *Aggregator) attachNative(attacher *rates.Attacher, v *model.CurrencyValue, height int64) error {
	if attacher == nil {
		return nil
	}
	return attacher.Attach(height, v, a.nativeDecimals)
}

func zeroIfAbsent(m map[model.TokenKey]model.CurrencyValue, k model.TokenKey, fiatWidth int) model.CurrencyValue {
	if v, ok := m[k]; ok {
		return v
	}
	return model.ZeroCurrencyValue(fiatWidth)
}

func blockTransactionRow(bundle model.BlockBundle) store.BlockTransactionRow {
	var ids []model.TxID
	for _, tx := range bundle.UTXOTxs {
		ids = append(ids, tx.TxID)
	}
	for _, tx := range bundle.AccountTxs {
		ids = append(ids, tx.TxID)
	}
	return store.BlockTransactionRow{BlockHeight: bundle.Block.Height, TxIDs: ids}
}

// resolveAddresses reads each touched address's current row (if any),
// applies its delta as an absolute read-modify-write, and returns the
// resulting AddressRow ops (spec.md §4.7, §9 "Idempotency").
func (a *Aggregator) resolveAddresses(ctx context.Context, deltas map[model.AddressID]*addressDelta, canon map[model.AddressID]model.CanonicalAddress) ([]store.RowOp, error) {
	ids := make([]model.AddressID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []store.RowOp
	for _, id := range ids {
		d := deltas[id]
		existing, ok, err := a.st.GetAddress(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("aggregate: read address %d: %w", id, err)
		}
		addr := existing
		if !ok {
			addr = model.NewAddress(id, canon[id], a.fiatWidth)
		}
		addr.NoIncomingTxs += d.noIncoming
		addr.NoOutgoingTxs += d.noOutgoing
		addr.NoIncomingTxsZeroValue += d.noIncomingZero
		addr.NoOutgoingTxsZeroValue += d.noOutgoingZero
		addr.TotalReceived = addr.TotalReceived.Add(d.received)
		addr.TotalSpent = addr.TotalSpent.Add(d.spent)
		for tok, v := range d.tokenReceived {
			addr.TokenTotalsReceived[string(tok)] = zeroIfAbsentStr(addr.TokenTotalsReceived, string(tok), a.fiatWidth).Add(v)
		}
		for tok, v := range d.tokenSpent {
			addr.TokenTotalsSpent[string(tok)] = zeroIfAbsentStr(addr.TokenTotalsSpent, string(tok), a.fiatWidth).Add(v)
		}
		if d.hasTx {
			addr.ObserveTxID(d.firstTx)
			addr.ObserveTxID(d.lastTx)
		}
		addr.IsContract = addr.IsContract || d.isContract
		addr.InDegree += d.inDegree
		addr.InDegreeZeroValue += d.inDegreeZero
		addr.OutDegree += d.outDegree
		addr.OutDegreeZeroValue += d.outDegreeZero
		rows = append(rows, store.AddressRow{Address: addr})
	}
	return rows, nil
}

func zeroIfAbsentStr(m map[string]model.CurrencyValue, k string, fiatWidth int) model.CurrencyValue {
	if v, ok := m[k]; ok {
		return v
	}
	return model.ZeroCurrencyValue(fiatWidth)
}

// resolveRelations reads each touched relation's current row, applies the
// delta, and determines degree increments: an address's in/out degree
// grows only the first time a given (src, dst, token) edge is observed
// (spec.md §4.7). Degree is tracked per exact edge key rather than
// deduped across tokens sharing the same (src, dst) pair -- a documented
// simplification (see DESIGN.md).
func (a *Aggregator) resolveRelations(
	ctx context.Context,
	deltas map[model.RelationKey]*relationDelta,
	getAddrDelta func(model.AddressID) *addressDelta,
) ([]store.RowOp, int64, error) {
	keys := make([]model.RelationKey, 0, len(deltas))
	for k := range deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Src != keys[j].Src {
			return keys[i].Src < keys[j].Src
		}
		if keys[i].Dst != keys[j].Dst {
			return keys[i].Dst < keys[j].Dst
		}
		return keys[i].Token < keys[j].Token
	})

	var rows []store.RowOp
	var newRelations int64
	for _, k := range keys {
		delta := deltas[k]
		existing, ok, err := a.st.GetRelation(ctx, k)
		if err != nil {
			return nil, 0, fmt.Errorf("aggregate: read relation %+v: %w", k, err)
		}
		rel := existing
		if !ok {
			rel = &model.AddressRelation{Src: k.Src, Dst: k.Dst}
			newRelations++
			zero := delta.valueSum.Native.Sign() == 0
			if zero {
				getAddrDelta(k.Dst).inDegreeZero++
				getAddrDelta(k.Src).outDegreeZero++
			} else {
				getAddrDelta(k.Dst).inDegree++
				getAddrDelta(k.Src).outDegree++
			}
		}
		rel.NoTransactions += int64(len(delta.txs))
		rel.ValueSum = rel.ValueSum.Add(delta.valueSum)

		rows = append(rows,
			store.RelationRow{AddressRelation: *rel, Outgoing: true},
			store.RelationRow{AddressRelation: *rel, Outgoing: false},
		)
	}
	return rows, newRelations, nil
}

// resolveEntities merges this batch's EntityUnions with any cluster
// assignment already persisted for their members (spec.md §4.5, §9
// "union-find for UTXO clustering" persists across batches). A union
// touching addresses from several previously-distinct entities merges
// them all under the lowest entity id.
func (a *Aggregator) resolveEntities(ctx context.Context, unions []projector.EntityUnion, resolve func(model.CanonicalAddress) model.AddressID) ([]store.RowOp, error) {
	if len(unions) == 0 {
		return nil, nil
	}
	uf := newUnionFind()
	for _, u := range unions {
		ids := make([]model.AddressID, len(u.Members))
		for i, m := range u.Members {
			ids[i] = resolve(m)
		}
		for i := 1; i < len(ids); i++ {
			uf.union(ids[0], ids[i])
		}
	}

	var rows []store.RowOp
	for _, members := range uf.groups() {
		existingIDs := make(map[model.EntityID]bool)
		for _, m := range members {
			if eid, ok, err := a.st.GetAddressEntity(ctx, m); err != nil {
				return nil, fmt.Errorf("aggregate: read entity for address %d: %w", m, err)
			} else if ok {
				existingIDs[eid] = true
			}
		}

		full := make(map[model.AddressID]bool)
		for _, m := range members {
			full[m] = true
		}
		var target model.EntityID
		if len(existingIDs) == 0 {
			target = model.EntityID(a.nextEntityID)
			a.nextEntityID++
		} else {
			first := true
			for eid := range existingIDs {
				if first || eid < target {
					target = eid
				}
				first = false
			}
		}
		for eid := range existingIDs {
			prior, ok, err := a.st.GetEntity(ctx, eid)
			if err != nil {
				return nil, fmt.Errorf("aggregate: read entity %d: %w", eid, err)
			}
			if ok {
				for _, m := range prior.Members {
					full[m] = true
				}
			}
		}

		memberList := make([]model.AddressID, 0, len(full))
		for m := range full {
			memberList = append(memberList, m)
		}
		sort.Slice(memberList, func(i, j int) bool { return memberList[i] < memberList[j] })

		rows = append(rows, store.EntityRow{Entity: model.Entity{ID: target, Members: memberList}})
		for _, m := range memberList {
			rows = append(rows, store.AddressEntityIndexRow{Address: m, Entity: target})
		}
	}
	return rows, nil
}
