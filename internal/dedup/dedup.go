// Package dedup collapses repeated identical errors within a trailing
// time window.
//
// Errors are identified by fingerprint (error code + target). The first
// sighting of a fingerprint alerts; later sightings are suppressed until
// the window has elapsed, at which point the next sighting re-alerts and
// refreshes the entry. Tables are day-scoped and persisted through the
// state store so suppression survives restarts.
package dedup

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/ingest"
	"github.com/fyrsmithlabs/remedyd/internal/statestore"
)

// Deduper decides whether an error record should alert.
type Deduper struct {
	store  *statestore.Store
	window time.Duration
	logger *zap.Logger

	// Day table, loaded lazily and written back via Flush.
	date  time.Time
	table map[string]time.Time
}

// New creates a deduplicator with the given suppression window.
func New(store *statestore.Store, window time.Duration, logger *zap.Logger) (*Deduper, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if window <= 0 {
		return nil, errors.New("dedup window must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{store: store, window: window, logger: logger}, nil
}

// ShouldAlert reports whether the record's fingerprint is novel within
// the suppression window, refreshing the entry when it is. Call at most
// once per candidate record: the decision mutates the dedup table.
func (d *Deduper) ShouldAlert(now time.Time, record ingest.LogRecord) (bool, error) {
	if err := d.ensureTable(now); err != nil {
		return false, err
	}

	fingerprint := record.Fingerprint()
	lastAlertAt, seen := d.table[fingerprint]
	if seen && now.Sub(lastAlertAt) < d.window {
		d.logger.Debug("suppressing duplicate error",
			zap.String("fingerprint", fingerprint),
			zap.Time("last_alert_at", lastAlertAt),
		)
		return false, nil
	}

	d.table[fingerprint] = now
	return true, nil
}

// Flush persists the current day table, dropping expired entries.
func (d *Deduper) Flush(now time.Time) error {
	if d.table == nil {
		return nil
	}
	for fingerprint, lastAlertAt := range d.table {
		if now.Sub(lastAlertAt) >= d.window {
			delete(d.table, fingerprint)
		}
	}
	return d.store.SaveDedup(d.date, d.table)
}

// ensureTable loads the day's table, discarding expired entries. A date
// rollover drops the previous day's table entirely.
func (d *Deduper) ensureTable(now time.Time) error {
	if d.table != nil && sameDay(d.date, now) {
		return nil
	}

	loaded, err := d.store.LoadDedup(now)
	if err != nil {
		return err
	}
	for fingerprint, lastAlertAt := range loaded {
		if now.Sub(lastAlertAt) >= d.window {
			delete(loaded, fingerprint)
		}
	}

	d.date = now
	d.table = loaded
	return nil
}

func sameDay(a, b time.Time) bool {
	return a.Format(statestore.DateLayout) == b.Format(statestore.DateLayout)
}
