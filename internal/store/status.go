package store

// StatusRow is the single-row DeltaUpdaterStatus (spec.md §3, §6).
type StatusRow struct {
	Keyspace              string
	LastSyncedBlock       int64
	LastSyncedTimestamp   int64 // unix seconds
	HighestAddressID      int32
	RunTimestamp          int64 // unix seconds, when this status was written
	WriteNew              bool
	WriteDirty            bool
	RuntimeSeconds        float64
	RunID                 string
}

// HistoryRow is one append-only entry of past runs, keyed by
// LastSyncedBlock (spec.md §3, §6, §4.9).
type HistoryRow StatusRow
