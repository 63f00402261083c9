// Package statestore persists remedyd's per-day watcher state.
//
// The state directory is the only shared mutable resource in the system:
// watcher checkpoints, dedup tables, the diagnostic rate-limit window and
// daily quota counters all live here as small structured files. Every
// component goes through the narrow contracts on Store; nothing touches
// the files directly.
//
// Writes are crash-safe: data is written to a temporary file in the same
// directory and renamed into place, so an interrupted save never leaves a
// checkpoint pointing past durably recorded state.
package statestore
