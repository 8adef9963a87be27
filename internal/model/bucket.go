// Package model holds the shared row types for the raw and transformed
// keyspaces: addresses, transactions, relations, entities and currency
// values, plus the bucket/group partitioning scheme used to key them.
package model

import "hash/fnv"

// Group returns the primary partition bucket for a dense monotone id,
// i.e. id / bucketSize. Both address ids and tx ids are partitioned this
// way so that ranges of recently-assigned ids land in the same bucket.
func Group(id int64, bucketSize int) int64 {
	if bucketSize <= 0 {
		return 0
	}
	return id / int64(bucketSize)
}

// SecondaryBucket further shards a hot partition by hashing raw key bytes
// into one of n secondary buckets. Used for address_*_secondary_ids and
// relation secondary buckets (see spec.md §3, §6).
func SecondaryBucket(key []byte, n int) int64 {
	if n <= 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(key)
	return int64(h.Sum64() % uint64(n))
}

// Prefix returns the first p characters of s, or s itself if shorter.
// Used for address_ids_by_address_prefix-style partitioning keys.
func Prefix(s string, p int) string {
	if p <= 0 || p >= len(s) {
		return s
	}
	return s[:p]
}
