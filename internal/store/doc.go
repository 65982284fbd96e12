// Package store provides SQLite-backed storage for awexport.
//
// It holds three things:
//   - Exports: one row per commit decision, with the accumulator around it
//   - Runs: per-run statistics (ignored and unknown time)
//   - Ledger: a local interval ledger usable as a tracker.Tracker
//
// # Ordering
//
// Exports are ordered by seq, the insertion counter, never by timestamp:
// two commits can share a start time after a retroactive reset.
// Ledger intervals are ordered by start, then id.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Timestamps are stored as RFC 3339 text in UTC with nanoseconds, durations
// as integer milliseconds, tag sets and accumulator snapshots as JSON.
package store
