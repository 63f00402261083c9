// Package ingest reads new records from the application's per-day JSON
// log file.
//
// The monitored file is append-only and rotates daily
// (<prefix>.YYYY-MM-DD.log). Each invocation resumes from the last durable
// checkpoint, detects rotation via the file's identity marker and resets
// to offset zero when the path points at a new file. Reading and
// checkpointing are split into Read and Commit so the checkpoint only
// advances after the batch has been fully handed downstream; a crash
// between the two re-delivers the batch on the next run (at-least-once).
package ingest
