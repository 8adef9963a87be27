// Package utxo implements the UTXO Projector (C5): per-tx address deltas,
// proportional relation splitting, and union-find input-clustering hints
// for UTXO-style ledgers (spec.md §4.5).
package utxo

import (
	"math/big"
	"sort"

	"graphsense.dev/deltaupdater/internal/model"
	"graphsense.dev/deltaupdater/internal/projector"
)

var (
	coinbaseAddr    = model.CoinbaseAddress
	nonStandardAddr = model.NonStandardAddress
)

// Projector is stateless: every call to Project depends only on its
// argument, so one instance is safe to reuse across every bundle in a
// batch.
type Projector struct{}

func New() *Projector { return &Projector{} }

func (p *Projector) Project(bundle model.BlockBundle) (projector.Projection, error) {
	var out projector.Projection
	seen := make(map[string]bool)
	addAddr := func(a model.CanonicalAddress) {
		if !seen[a.Text] {
			seen[a.Text] = true
			out.NewAddressOrder = append(out.NewAddressOrder, a)
		}
	}
	for _, tx := range bundle.UTXOTxs {
		projectTx(bundle.Block.Height, tx, &out, addAddr)
	}
	return out, nil
}

// weightedAddr is one distinct input address's total native-unit
// contribution to a tx, in first-seen input order. The order is used to
// break relation-split remainder ties (spec.md §4.5 "ties broken by
// input index ascending").
type weightedAddr struct {
	addr   model.CanonicalAddress
	weight int64
}

func projectTx(height int64, tx model.UTXOTx, out *projector.Projection, addAddr func(model.CanonicalAddress)) {
	inputs := resolveInputs(tx)
	var totalInput int64
	for _, w := range inputs {
		addAddr(w.addr)
		totalInput += w.weight
	}

	for _, in := range inputs {
		out.AddressEvents = append(out.AddressEvents, projector.AddressTxEvent{
			Address:     in.addr,
			TxID:        tx.TxID,
			BlockHeight: height,
			Direction:   projector.Outgoing,
			Value:       model.CurrencyValue{Native: big.NewInt(in.weight)},
			ZeroValue:   in.weight == 0,
		})
	}

	// Entity union: every distinct real (non-sentinel) input address of a
	// non-coinbase tx is co-clustered under the common-input-ownership
	// heuristic (spec.md §4.5, §9). Sentinels never merge clusters.
	if !tx.Coinbase {
		var members []model.CanonicalAddress
		for _, w := range inputs {
			if w.addr.Equal(coinbaseAddr) || w.addr.Equal(nonStandardAddr) {
				continue
			}
			members = append(members, w.addr)
		}
		if len(members) > 1 {
			out.EntityUnions = append(out.EntityUnions, projector.EntityUnion{Members: members})
		}
	}

	for _, o := range tx.Outputs {
		addrs := resolveMultiAddr(o.Addresses)
		splits := splitEvenly(o.Value, len(addrs))
		for i, a := range addrs {
			addAddr(a)
			v := splits[i]
			out.AddressEvents = append(out.AddressEvents, projector.AddressTxEvent{
				Address:     a,
				TxID:        tx.TxID,
				BlockHeight: height,
				Direction:   projector.Incoming,
				Value:       model.CurrencyValue{Native: big.NewInt(v)},
				ZeroValue:   v == 0,
			})

			if totalInput == 0 || v == 0 {
				continue
			}
			for _, s := range proportionalSplit(v, inputs, totalInput) {
				if s.addr.Equal(a) || s.value == 0 {
					continue
				}
				out.RelationEvents = append(out.RelationEvents, projector.RelationEvent{
					Src:         s.addr,
					Dst:         a,
					TxID:        tx.TxID,
					BlockHeight: height,
					Token:       model.NativeToken,
					Value:       model.CurrencyValue{Native: big.NewInt(s.value)},
				})
			}
		}
	}
}

// resolveInputs builds the deterministic, appearance-ordered list of
// distinct input addresses and their native-unit contribution. A coinbase
// tx has a single virtual input: the coinbase sentinel, weighted by the
// sum of its outputs (spec.md §4.5).
func resolveInputs(tx model.UTXOTx) []weightedAddr {
	if tx.Coinbase {
		var total int64
		for _, o := range tx.Outputs {
			total += o.Value
		}
		return []weightedAddr{{addr: coinbaseAddr, weight: total}}
	}

	order := make([]string, 0, len(tx.Inputs))
	index := make(map[string]int)
	weights := make(map[string]int64)
	addrByText := make(map[string]model.CanonicalAddress)
	for _, in := range tx.Inputs {
		addrs := resolveMultiAddr(in.Addresses)
		splits := splitEvenly(in.Value, len(addrs))
		for i, a := range addrs {
			if _, ok := index[a.Text]; !ok {
				index[a.Text] = len(order)
				order = append(order, a.Text)
				addrByText[a.Text] = a
			}
			weights[a.Text] += splits[i]
		}
	}
	list := make([]weightedAddr, len(order))
	for i, text := range order {
		list[i] = weightedAddr{addr: addrByText[text], weight: weights[text]}
	}
	return list
}

// resolveMultiAddr returns the non-standard sentinel for an output/input
// carrying zero resolved addresses (spec.md §4.5), or addrs unchanged.
func resolveMultiAddr(addrs []model.CanonicalAddress) []model.CanonicalAddress {
	if len(addrs) == 0 {
		return []model.CanonicalAddress{nonStandardAddr}
	}
	return addrs
}

// splitEvenly distributes value across n recipients, assigning the
// remainder to the lowest-indexed recipients first (spec.md §4.5).
func splitEvenly(value int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	out := make([]int64, n)
	base := value / int64(n)
	rem := value % int64(n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}

type relationSplit struct {
	addr  model.CanonicalAddress
	value int64
}

// proportionalSplit divides value across inputs proportionally to each
// entry's weight/totalWeight, using the largest-remainder method with
// ties broken by input index ascending (spec.md §4.5). Intermediate
// products are computed in big.Int since value*weight can exceed 63 bits
// even though both operands individually fit in int64.
func proportionalSplit(value int64, inputs []weightedAddr, totalWeight int64) []relationSplit {
	total := big.NewInt(totalWeight)
	val := big.NewInt(value)

	shares := make([]int64, len(inputs))
	remains := make([]*big.Int, len(inputs))
	var assigned int64
	for i, w := range inputs {
		product := new(big.Int).Mul(val, big.NewInt(w.weight))
		share, remain := new(big.Int).QuoRem(product, total, new(big.Int))
		shares[i] = share.Int64()
		remains[i] = remain
		assigned += shares[i]
	}

	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		c := remains[order[a]].Cmp(remains[order[b]])
		if c != 0 {
			return c > 0
		}
		return order[a] < order[b]
	})
	leftover := value - assigned
	for i := int64(0); i < leftover && i < int64(len(order)); i++ {
		shares[order[i]]++
	}

	out := make([]relationSplit, len(inputs))
	for i, w := range inputs {
		out[i] = relationSplit{addr: w.addr, value: shares[i]}
	}
	return out
}
