// Package ratelimit caps diagnostic-service invocations per rolling hour.
//
// The window is a persisted list of call timestamps. On each check the
// limiter evicts entries older than an hour, then admits the call only if
// the remaining count is under the ceiling. When the limiter refuses, the
// caller still emits a plain notification so an error is never dropped
// silently.
package ratelimit

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/statestore"
)

// Window is the trailing interval considered by the limiter.
const Window = time.Hour

// Limiter admits at most a fixed number of calls per rolling hour.
type Limiter struct {
	store   *statestore.Store
	ceiling int
	logger  *zap.Logger
}

// New creates a limiter with the given hourly ceiling.
func New(store *statestore.Store, ceiling int, logger *zap.Logger) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if ceiling < 1 {
		return nil, errors.New("rate limit ceiling must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, ceiling: ceiling, logger: logger}, nil
}

// TryAcquire records and admits the call if the rolling window has
// capacity. It returns false without recording when the ceiling is
// reached.
func (l *Limiter) TryAcquire(now time.Time) (bool, error) {
	stamps, err := l.store.LoadRateWindow()
	if err != nil {
		return false, err
	}

	cutoff := now.Add(-Window)
	recent := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.ceiling {
		// Persist the eviction even when refusing.
		if err := l.store.SaveRateWindow(recent); err != nil {
			return false, err
		}
		l.logger.Warn("diagnostic rate limit reached",
			zap.Int("ceiling", l.ceiling),
			zap.Time("oldest_call", recent[0]),
		)
		return false, nil
	}

	recent = append(recent, now)
	if err := l.store.SaveRateWindow(recent); err != nil {
		return false, err
	}
	return true, nil
}
