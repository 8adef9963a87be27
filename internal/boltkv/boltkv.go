// Package boltkv is the small embedded-KV foundation shared by the raw
// and transformed store adapters. It is adapted from the teacher's
// node/store/db.go: open-with-timeout, create-buckets-if-missing, and a
// datadir layout rooted at one directory per keyspace.
//
// Production GraphSense deployments back the raw and transformed
// keyspaces with a wide-column store (Cassandra/ScyllaDB); no such
// driver exists anywhere in the example corpus (see DESIGN.md), so this
// reference implementation models the same bucketed-table contract over
// bbolt, exactly the way the teacher models its own chain state. Callers
// only ever see the store.Store / rawstore.Store interfaces, so a real
// wide-column backend can be substituted without touching the engine.
package boltkv

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// KeyspaceDir returns the on-disk directory for a given keyspace under
// datadir, mirroring the teacher's ChainDir layout.
func KeyspaceDir(datadir, keyspace string) string {
	return filepath.Join(datadir, "keyspaces", keyspace)
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Open opens (creating if absent) the bbolt file "file" under the
// keyspace directory datadir/keyspaces/<keyspace>/, and ensures every
// named bucket exists.
func Open(datadir, keyspace, file string, buckets ...[]byte) (*bolt.DB, error) {
	dir := KeyspaceDir(datadir, keyspace)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, file), 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt %s/%s: %w", keyspace, file, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
