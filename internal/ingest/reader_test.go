package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/statestore"
)

var testDay = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func newTestReader(t *testing.T) (*Reader, *statestore.Store, string) {
	t.Helper()

	root := t.TempDir()
	logDir := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))

	store, err := statestore.New(filepath.Join(root, "state"), zap.NewNop())
	require.NoError(t, err)

	reader, err := NewReader(config.WatchConfig{LogDir: logDir, FilePrefix: "server"}, store, zap.NewNop())
	require.NoError(t, err)

	return reader, store, logDir
}

func errorLine(code, target, message string) string {
	return fmt.Sprintf(
		`{"timestamp":"2026-08-28T10:00:00Z","level":"ERROR","target":"%s","message":"%s","fields":{"error_code":"%s"}}`+"\n",
		target, message, code,
	)
}

func infoLine(message string) string {
	return fmt.Sprintf(
		`{"timestamp":"2026-08-28T10:00:00Z","level":"INFO","target":"server::main","message":"%s"}`+"\n",
		message,
	)
}

func appendLog(t *testing.T, reader *Reader, content string) {
	t.Helper()
	f, err := os.OpenFile(reader.LogPath(testDay), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(content)
	require.NoError(t, err)
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	reader, _, _ := newTestReader(t)

	batch, err := reader.Read(context.Background(), testDay)
	require.NoError(t, err)
	assert.Empty(t, batch.Records)

	// Committing an empty batch must not create a checkpoint.
	require.NoError(t, reader.Commit(context.Background(), batch))
	_, found, err := reader.store.LoadCheckpoint(testDay)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadFiltersErrorLevel(t *testing.T) {
	reader, _, _ := newTestReader(t)
	appendLog(t, reader, infoLine("boot")+errorLine("AI5001", "server::domain::ai::service", "boom")+infoLine("ok"))

	batch, err := reader.Read(context.Background(), testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "AI5001", batch.Records[0].ErrorCode)
	assert.Equal(t, "boom", batch.Records[0].Message)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	reader, _, _ := newTestReader(t)
	appendLog(t, reader, "not json at all\n"+errorLine("E1", "svc::x", "real error")+"{\"broken\n")

	batch, err := reader.Read(context.Background(), testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E1", batch.Records[0].ErrorCode)
}

func TestReadResumesFromCheckpoint(t *testing.T) {
	reader, _, _ := newTestReader(t)
	ctx := context.Background()

	appendLog(t, reader, errorLine("E1", "svc::x", "first"))
	batch, err := reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	require.NoError(t, reader.Commit(ctx, batch))

	// No new lines: no-op.
	batch, err = reader.Read(ctx, testDay)
	require.NoError(t, err)
	assert.Empty(t, batch.Records)
	require.NoError(t, reader.Commit(ctx, batch))

	// Previously processed lines are never re-emitted.
	appendLog(t, reader, errorLine("E2", "svc::y", "second"))
	batch, err = reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E2", batch.Records[0].ErrorCode)
}

func TestReadWithoutCommitRedelivers(t *testing.T) {
	reader, _, _ := newTestReader(t)
	ctx := context.Background()

	appendLog(t, reader, errorLine("E1", "svc::x", "first"))

	batch, err := reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)

	// Crash before Commit: the next read delivers the same records.
	batch, err = reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E1", batch.Records[0].ErrorCode)
}

func TestCheckpointMonotonicAcrossInvocations(t *testing.T) {
	reader, store, _ := newTestReader(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		appendLog(t, reader, errorLine("E1", "svc::x", "err"))

		batch, err := reader.Read(ctx, testDay)
		require.NoError(t, err)
		require.NoError(t, reader.Commit(ctx, batch))

		cp, found, err := store.LoadCheckpoint(testDay)
		require.NoError(t, err)
		require.True(t, found)
		assert.GreaterOrEqual(t, cp.Offset, last)
		last = cp.Offset
	}
}

func TestReadDetectsRotation(t *testing.T) {
	reader, _, _ := newTestReader(t)
	ctx := context.Background()

	appendLog(t, reader, errorLine("E1", "svc::x", "old file"))
	batch, err := reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	require.NoError(t, reader.Commit(ctx, batch))

	// Replace the file: same path, new inode, fresh content.
	require.NoError(t, os.Remove(reader.LogPath(testDay)))
	appendLog(t, reader, errorLine("E2", "svc::y", "new file"))

	batch, err = reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E2", batch.Records[0].ErrorCode)
}

func TestReadResetsWhenFileShrinks(t *testing.T) {
	reader, store, _ := newTestReader(t)
	ctx := context.Background()

	appendLog(t, reader, errorLine("E1", "svc::x", "a")+errorLine("E2", "svc::y", "b"))
	batch, err := reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.NoError(t, reader.Commit(ctx, batch))

	// Truncate in place: same inode, shorter file.
	require.NoError(t, os.WriteFile(reader.LogPath(testDay), []byte(errorLine("E3", "svc::z", "c")), 0o644))

	batch, err = reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E3", batch.Records[0].ErrorCode)

	require.NoError(t, reader.Commit(ctx, batch))
	cp, _, err := store.LoadCheckpoint(testDay)
	require.NoError(t, err)
	assert.Equal(t, int64(len(errorLine("E3", "svc::z", "c"))), cp.Offset)
}

func TestReadLeavesPartialTrailingLine(t *testing.T) {
	reader, _, _ := newTestReader(t)
	ctx := context.Background()

	appendLog(t, reader, errorLine("E1", "svc::x", "complete"))
	partial := `{"timestamp":"2026-08-28T10:00:01Z","level":"ERROR","target":"svc::y","mess`
	appendLog(t, reader, partial)

	batch, err := reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	require.NoError(t, reader.Commit(ctx, batch))

	// The writer finishes the line; only the completed record appears.
	appendLog(t, reader, `age":"late","fields":{"error_code":"E2"}}`+"\n")

	batch, err = reader.Read(ctx, testDay)
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "E2", batch.Records[0].ErrorCode)
	assert.Equal(t, "late", batch.Records[0].Message)
}
