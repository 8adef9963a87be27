// Package lock implements the per-(currency, keyspace) advisory process
// lock (spec.md §5): only one coordinator run may hold the transformed
// keyspace at a time. Backed by github.com/gofrs/flock, pack-sourced
// from AKJUS-bsc-erigon's erigon-lib dependency list (SPEC_FULL.md
// AMBIENT STACK).
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLockHeld is returned by Acquire when another process already holds
// the lock; it is not itself fatal to the caller (spec.md §7
// "LockHeld").
type ErrLockHeld struct {
	Path string
}

func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("lock: %s is held by another process", e.Path)
}

// Lock guards one (currency, keyspace) pair for the lifetime of one
// coordinator run.
type Lock struct {
	fl *flock.Flock
}

// Path returns the advisory lock file's location for a currency under
// dataDir.
func Path(dataDir, currency string) string {
	return filepath.Join(dataDir, "locks", currency+".lock")
}

// Acquire tries a non-blocking exclusive lock at path, creating parent
// directories as needed. Returns *ErrLockHeld if another process already
// holds it.
func Acquire(path string) (*Lock, error) {
	if err := ensureParent(path); err != nil {
		return nil, err
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock: try %s: %w", path, err)
	}
	if !ok {
		return nil, &ErrLockHeld{Path: path}
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks and closes the underlying lock file.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

func ensureParent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("lock: mkdir %s: %w", filepath.Dir(path), err)
	}
	return nil
}
