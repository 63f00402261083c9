package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestAcquireAndRelease(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	_, statErr := os.Stat(m.path)
	assert.NoError(t, statErr)

	guard.Release()

	_, statErr = os.Stat(m.path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSecondAcquireTimesOut(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer guard.Release()

	_, err = m.Acquire(context.Background(), 300*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAcquireAfterRelease(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	guard.Release()

	guard2, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	guard2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	guard.Release()
	guard.Release()

	// A later holder's marker must not be removed by a stale guard.
	guard2, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	guard.Release()
	_, statErr := os.Stat(m.path)
	assert.NoError(t, statErr)
	guard2.Release()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer guard.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitingAcquirerGetsLockOnRelease(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		g, err := m.Acquire(context.Background(), 5*time.Second)
		if err == nil {
			g.Release()
			close(acquired)
		}
	}()

	time.Sleep(250 * time.Millisecond)
	guard.Release()

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiting acquirer never got the lock")
	}
}

// TestMutualExclusion hammers the lock from concurrent goroutines and
// checks that at most one holds it at any moment.
func TestMutualExclusion(t *testing.T) {
	m := newTestManager(t)

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guard, err := m.Acquire(context.Background(), 10*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			guard.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestOwnerMetadataWritten(t *testing.T) {
	m := newTestManager(t)

	guard, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer guard.Release()

	data, err := os.ReadFile(filepath.Join(m.path, "owner"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "pid=")
}
