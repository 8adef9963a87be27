// Package status implements C9: run-id stamping, the status/history
// ledger invariant checks, and a crash-safe local run-metadata snapshot,
// adapted from the teacher's node/store manifest idiom (write temp ->
// fsync temp -> rename -> fsync dir) in node/store/manifest.go.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"graphsense.dev/deltaupdater/internal/store"
)

// NewRunID returns a fresh identifier for one coordinator run
// (SPEC_FULL.md AMBIENT STACK "run-id").
func NewRunID() string {
	return uuid.NewString()
}

// Validate checks the status/history ledger's invariants (spec.md §4.9):
// history entries are strictly increasing in LastSyncedBlock and
// non-decreasing in RunTimestamp, with no duplicate or out-of-order
// entries, and the gap
// between consecutive synced blocks never exceeds maxGap (0 disables the
// gap check).
func Validate(history []store.HistoryRow, maxGap int64) error {
	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		if cur.LastSyncedBlock <= prev.LastSyncedBlock {
			return fmt.Errorf("history entry %d: last_synced_block %d is not greater than entry %d's %d",
				i, cur.LastSyncedBlock, i-1, prev.LastSyncedBlock)
		}
		if cur.RunTimestamp < prev.RunTimestamp {
			return fmt.Errorf("history entry %d: run_timestamp %d precedes entry %d's %d",
				i, cur.RunTimestamp, i-1, prev.RunTimestamp)
		}
		if maxGap > 0 && cur.LastSyncedBlock-prev.LastSyncedBlock > maxGap {
			return fmt.Errorf("history entry %d: block gap %d exceeds max_gap %d",
				i, cur.LastSyncedBlock-prev.LastSyncedBlock, maxGap)
		}
	}
	return nil
}

// RunMeta is the local breadcrumb written once a batch's WRITING stage
// has stored its rows and removed once STATUS_UPDATE completes, so a crashed run can be
// detected by a later invocation (spec.md §7 "Crash recovery"). WRITING
// commits the batch's address/relation/summary rows in one atomic
// BatchWrite, so a run that crashes after that commit but before
// STATUS_UPDATE has already-durable rows that must not be recomputed: the
// next invocation replays only the missing status commit, using
// LastTimestamp to rebuild the StatusRow without re-aggregating.
type RunMeta struct {
	RunID       string `json:"run_id"`
	Currency    string `json:"currency"`
	StartedUnix int64  `json:"started_unix"`
	FromHeight  int64  `json:"from_height"`
	ToHeight    int64  `json:"to_height"`
	Stage       string `json:"stage"`
	LastTimestamp int64 `json:"last_timestamp"`
}

func runMetaPath(dataDir, currency string) string {
	return filepath.Join(dataDir, "run-"+currency+".json")
}

// WriteRunMeta atomically (re)writes the run-metadata breadcrumb for
// currency under dataDir.
func WriteRunMeta(dataDir string, m RunMeta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal run meta: %w", err)
	}
	b = append(b, '\n')

	final := runMetaPath(dataDir, m.Currency)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("status: open tmp run meta: %w", err)
	}
	_, werr := f.Write(b)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("status: write tmp run meta: %w", werr)
	}
	if serr != nil {
		return fmt.Errorf("status: fsync tmp run meta: %w", serr)
	}
	if cerr != nil {
		return fmt.Errorf("status: close tmp run meta: %w", cerr)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("status: rename run meta: %w", err)
	}
	return fsyncDir(filepath.Dir(final))
}

// ReadRunMeta reads the breadcrumb for currency, if any. A missing file
// is reported via the ok return, not an error.
func ReadRunMeta(dataDir, currency string) (RunMeta, bool, error) {
	b, err := os.ReadFile(runMetaPath(dataDir, currency))
	if os.IsNotExist(err) {
		return RunMeta{}, false, nil
	}
	if err != nil {
		return RunMeta{}, false, fmt.Errorf("status: read run meta: %w", err)
	}
	var m RunMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return RunMeta{}, false, fmt.Errorf("status: parse run meta: %w", err)
	}
	return m, true, nil
}

// ClearRunMeta removes the breadcrumb once a run has reached
// STATUS_UPDATE successfully.
func ClearRunMeta(dataDir, currency string) error {
	err := os.Remove(runMetaPath(dataDir, currency))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("status: remove run meta: %w", err)
	}
	return nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("status: fsync dir open: %w", err)
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("status: fsync dir: %w", err)
	}
	return d.Close()
}
