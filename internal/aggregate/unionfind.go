package aggregate

import (
	"sort"

	"graphsense.dev/deltaupdater/internal/model"
)

// unionFind is a plain map-based disjoint-set over AddressIDs, scoped to
// one batch (spec.md §4.5, §9 "union-find for UTXO clustering").
type unionFind struct {
	parent map[model.AddressID]model.AddressID
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[model.AddressID]model.AddressID)}
}

func (u *unionFind) find(x model.AddressID) model.AddressID {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(a, b model.AddressID) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Lower id wins as representative, keeping cluster assignment
	// deterministic independent of union call order.
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// groups returns the batch-local partition, keyed by representative id,
// each member list sorted ascending.
func (u *unionFind) groups() map[model.AddressID][]model.AddressID {
	out := make(map[model.AddressID][]model.AddressID)
	for x := range u.parent {
		r := u.find(x)
		out[r] = append(out[r], x)
	}
	for _, members := range out {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	}
	return out
}
