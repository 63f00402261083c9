// Package quota caps published remediation pull requests per calendar day.
package quota

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/statestore"
)

// Tracker enforces the daily ceiling on published fixes.
//
// Allow is an advisory read; the counter is committed only after a
// successful publish so failed attempts never consume quota. The counter
// resets implicitly on date rollover because it is day-keyed.
type Tracker struct {
	store   *statestore.Store
	ceiling int
	logger  *zap.Logger
}

// New creates a tracker with the given daily ceiling.
func New(store *statestore.Store, ceiling int, logger *zap.Logger) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if ceiling < 1 {
		return nil, errors.New("quota ceiling must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, ceiling: ceiling, logger: logger}, nil
}

// Allow reports whether the day's counter is under the ceiling.
func (t *Tracker) Allow(date time.Time) (bool, error) {
	count, err := t.store.LoadQuota(date)
	if err != nil {
		return false, err
	}
	if count >= t.ceiling {
		t.logger.Warn("daily remediation quota exhausted",
			zap.Int("count", count),
			zap.Int("ceiling", t.ceiling),
		)
		return false, nil
	}
	return true, nil
}

// Commit increments the day's counter by one. Call exactly once per
// successfully published fix.
func (t *Tracker) Commit(date time.Time) (int, error) {
	count, err := t.store.IncrementQuota(date)
	if err != nil {
		return 0, err
	}
	t.logger.Info("remediation quota consumed",
		zap.Int("count", count),
		zap.Int("ceiling", t.ceiling),
	)
	return count, nil
}
