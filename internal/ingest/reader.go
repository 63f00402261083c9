package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/statestore"
)

// Batch is one invocation's worth of new error records plus the
// checkpoint describing how far the file was read. The checkpoint is
// persisted only via Commit, after downstream has consumed the records.
type Batch struct {
	// Date selects the per-day log file and checkpoint.
	Date time.Time

	// Records are the new ERROR-level records, in file order.
	Records []LogRecord

	next   statestore.Checkpoint
	commit bool
}

// Reader produces batches of new log records since the last checkpoint.
type Reader struct {
	logDir     string
	filePrefix string
	store      *statestore.Store
	logger     *zap.Logger
}

// NewReader creates a reader for the configured per-day log files.
func NewReader(cfg config.WatchConfig, store *statestore.Store, logger *zap.Logger) (*Reader, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		logDir:     cfg.LogDir,
		filePrefix: cfg.FilePrefix,
		store:      store,
		logger:     logger,
	}, nil
}

// LogPath returns the log file path for the given date.
func (r *Reader) LogPath(date time.Time) string {
	name := fmt.Sprintf("%s.%s.log", r.filePrefix, date.Format(statestore.DateLayout))
	return filepath.Join(r.logDir, name)
}

// Read returns the new ERROR records appended since the last checkpoint.
//
// A missing log file yields an empty batch and no error. A changed file
// identity marker means the path now refers to a rotated file, so reading
// restarts at offset zero. Malformed lines are skipped with a warning; a
// trailing line without a newline is assumed to be mid-write and is left
// for the next invocation.
func (r *Reader) Read(ctx context.Context, now time.Time) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{Date: now}
	path := r.LogPath(now)

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("log file does not exist yet", zap.String("path", path))
		return batch, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file %s: %w", path, err)
	}
	ident := fileIdent(info)

	cp, found, err := r.store.LoadCheckpoint(now)
	if err != nil {
		return nil, err
	}

	offset := int64(0)
	switch {
	case !found:
		// First read of the day.
	case cp.FileIdent != ident:
		r.logger.Info("log file rotated, resetting offset",
			zap.String("path", path),
			zap.String("previous_ident", cp.FileIdent),
			zap.String("current_ident", ident),
		)
	case cp.Offset > info.Size():
		r.logger.Warn("log file shrank below checkpoint, resetting offset",
			zap.String("path", path),
			zap.Int64("checkpoint_offset", cp.Offset),
			zap.Int64("file_size", info.Size()),
		)
	default:
		offset = cp.Offset
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek log file %s: %w", path, err)
	}

	consumed, records, err := r.scan(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read log file %s: %w", path, err)
	}

	batch.Records = records
	batch.next = statestore.Checkpoint{Offset: offset + consumed, FileIdent: ident}
	batch.commit = true
	return batch, nil
}

// Commit durably records the batch's checkpoint. Call only after the
// batch has been fully handed downstream.
func (r *Reader) Commit(ctx context.Context, batch *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if batch == nil || !batch.commit {
		return nil
	}
	return r.store.SaveCheckpoint(batch.Date, batch.next)
}

// scan reads complete lines from the current position, returning the
// number of bytes consumed and the parsed ERROR records.
func (r *Reader) scan(f *os.File) (int64, []LogRecord, error) {
	var (
		consumed int64
		records  []LogRecord
	)

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return consumed, records, err
		}
		if errors.Is(err, io.EOF) && !strings.HasSuffix(line, "\n") {
			// Partial trailing line, likely mid-append. Leave it
			// for the next invocation.
			return consumed, records, nil
		}

		consumed += int64(len(line))

		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			rec, perr := ParseRecord(trimmed)
			if perr != nil {
				r.logger.Warn("skipping malformed log line", zap.Error(perr))
			} else if rec.IsError() {
				records = append(records, rec)
			}
		}

		if errors.Is(err, io.EOF) {
			return consumed, records, nil
		}
	}
}

// fileIdent derives the identity marker used for rotation detection.
func fileIdent(info os.FileInfo) string {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", stat.Dev, stat.Ino)
	}
	// Fallback for filesystems without stat identity; per-day file names
	// still change daily, so rotation detection degrades gracefully.
	return "name:" + info.Name()
}
