// Package lock provides cross-process mutual exclusion for the
// remediation pipeline.
//
// The lock is an atomically created marker directory inside the state
// directory. Directory creation is atomic on every platform remedyd runs
// on, which keeps the primitive portable where kernel advisory locks are
// not. The holder's pid and acquisition time are written next to the
// marker so an operator can identify and reclaim an orphaned lock after
// a process kill.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when the lock cannot be acquired in time.
// The caller aborts the remediation attempt entirely; there is no
// in-process retry loop.
var ErrTimeout = errors.New("timed out waiting for remediation lock")

const (
	markerName = "remediation.lock"
	ownerFile  = "owner"
	pollEvery  = 100 * time.Millisecond
)

// Manager hands out the single named remediation lock.
type Manager struct {
	path   string
	logger *zap.Logger
}

// NewManager creates a lock manager rooted in the state directory.
func NewManager(stateDir string, logger *zap.Logger) (*Manager, error) {
	if stateDir == "" {
		return nil, errors.New("state directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{path: filepath.Join(stateDir, markerName), logger: logger}, nil
}

// Guard represents a held lock. Release removes the marker and is safe
// to call more than once.
type Guard struct {
	path    string
	logger  *zap.Logger
	release sync.Once
}

// Release removes the lock marker unconditionally.
func (g *Guard) Release() {
	g.release.Do(func() {
		if err := os.RemoveAll(g.path); err != nil {
			g.logger.Error("failed to release remediation lock",
				zap.String("path", g.path),
				zap.Error(err),
			)
			return
		}
		g.logger.Debug("released remediation lock", zap.String("path", g.path))
	})
}

// Acquire obtains the lock, polling until timeout. On timeout it returns
// ErrTimeout and the caller must abort without partial execution.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) (*Guard, error) {
	deadline := time.Now().Add(timeout)

	for {
		err := os.Mkdir(m.path, 0o700)
		if err == nil {
			m.writeOwner()
			m.logger.Debug("acquired remediation lock", zap.String("path", m.path))
			return &Guard{path: m.path, logger: m.logger}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock marker %s: %w", m.path, err)
		}

		if time.Now().After(deadline) {
			m.logger.Warn("remediation lock held by another run",
				zap.String("path", m.path),
				zap.String("holder", m.readOwner()),
				zap.Duration("waited", timeout),
			)
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollEvery):
		}
	}
}

// writeOwner records holder metadata for operator reclaim. Best-effort:
// the lock is already held once the marker exists.
func (m *Manager) writeOwner() {
	content := fmt.Sprintf("pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(m.path, ownerFile), []byte(content), 0o600); err != nil {
		m.logger.Warn("failed to write lock owner metadata", zap.Error(err))
	}
}

func (m *Manager) readOwner() string {
	data, err := os.ReadFile(filepath.Join(m.path, ownerFile))
	if err != nil {
		return "unknown"
	}
	return string(data)
}
