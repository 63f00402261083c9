package statestore

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DateLayout is the canonical per-day key format.
const DateLayout = "2006-01-02"

const (
	checkpointPrefix = "checkpoint-"
	dedupPrefix      = "dedup-"
	quotaPrefix      = "quota-"
	rateWindowFile   = "rate-window"
)

// Checkpoint records how far the watcher has read today's log file,
// plus the file's identity marker for rotation detection.
type Checkpoint struct {
	// Offset is the byte offset of the first unread byte.
	Offset int64 `json:"offset"`

	// FileIdent identifies the underlying file (dev:inode on unix).
	// A changed marker means the path now refers to a different file.
	FileIdent string `json:"file_ident"`
}

// DedupEntry is one persisted dedup table row.
type DedupEntry struct {
	Fingerprint string    `json:"fingerprint"`
	LastAlertAt time.Time `json:"last_alert_at"`
}

// Store persists watcher state under a single directory.
type Store struct {
	dir    string
	logger *zap.Logger
}

// New creates a store rooted at dir, creating the directory if absent.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// LoadCheckpoint returns the checkpoint for the given day.
// The second return value is false when no checkpoint exists yet.
func (s *Store) LoadCheckpoint(date time.Time) (Checkpoint, bool, error) {
	path := s.checkpointPath(date)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return cp, true, nil
}

// SaveCheckpoint durably records the checkpoint for the given day.
func (s *Store) SaveCheckpoint(date time.Time, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := s.writeAtomic(s.checkpointPath(date), data); err != nil {
		return err
	}
	s.logger.Debug("saved checkpoint",
		zap.String("date", date.Format(DateLayout)),
		zap.Int64("offset", cp.Offset),
		zap.String("file_ident", cp.FileIdent),
	)
	return nil
}

// LoadDedup returns the day's dedup table. Entries older than the window
// are the caller's concern; the store returns everything on disk.
// Unparsable rows are skipped with a warning.
func (s *Store) LoadDedup(date time.Time) (map[string]time.Time, error) {
	table := make(map[string]time.Time)

	f, err := os.Open(s.dedupPath(date))
	if errors.Is(err, os.ErrNotExist) {
		return table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup table: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry DedupEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			s.logger.Warn("skipping malformed dedup entry", zap.Error(err))
			continue
		}
		table[entry.Fingerprint] = entry.LastAlertAt
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dedup table: %w", err)
	}
	return table, nil
}

// SaveDedup replaces the day's dedup table.
func (s *Store) SaveDedup(date time.Time, table map[string]time.Time) error {
	var sb strings.Builder
	for fingerprint, lastAlertAt := range table {
		line, err := json.Marshal(DedupEntry{Fingerprint: fingerprint, LastAlertAt: lastAlertAt})
		if err != nil {
			return fmt.Errorf("failed to serialize dedup entry: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return s.writeAtomic(s.dedupPath(date), []byte(sb.String()))
}

// LoadRateWindow returns the recorded diagnostic call timestamps.
// The file holds newline-separated unix timestamps.
func (s *Store) LoadRateWindow() ([]time.Time, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, rateWindowFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rate window: %w", err)
	}

	var stamps []time.Time
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		unix, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			s.logger.Warn("skipping malformed rate-window entry", zap.String("line", line))
			continue
		}
		stamps = append(stamps, time.Unix(unix, 0))
	}
	return stamps, nil
}

// SaveRateWindow replaces the recorded diagnostic call timestamps.
func (s *Store) SaveRateWindow(stamps []time.Time) error {
	var sb strings.Builder
	for _, ts := range stamps {
		sb.WriteString(strconv.FormatInt(ts.Unix(), 10))
		sb.WriteByte('\n')
	}
	return s.writeAtomic(filepath.Join(s.dir, rateWindowFile), []byte(sb.String()))
}

// LoadQuota returns the day's published-fix counter, zero if absent.
func (s *Store) LoadQuota(date time.Time) (int, error) {
	data, err := os.ReadFile(s.quotaPath(date))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse quota counter: %w", err)
	}
	return count, nil
}

// IncrementQuota bumps the day's counter by one and returns the new value.
func (s *Store) IncrementQuota(date time.Time) (int, error) {
	count, err := s.LoadQuota(date)
	if err != nil {
		return 0, err
	}
	count++
	if err := s.writeAtomic(s.quotaPath(date), []byte(strconv.Itoa(count))); err != nil {
		return 0, err
	}
	return count, nil
}

// Purge removes per-day state files older than the retention period.
// It returns the number of files removed.
func (s *Store) Purge(now time.Time, retention time.Duration) (int, error) {
	cutoff := now.Add(-retention)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read state directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()

		// A crash between CreateTemp and Rename orphans a temp file; old
		// ones are garbage.
		if strings.HasPrefix(name, ".tmp-") {
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
				removed++
			}
			continue
		}

		dateStr, ok := datedStateFile(name)
		if !ok {
			continue
		}
		date, err := time.Parse(DateLayout, dateStr)
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
				removed++
			}
		}
	}

	if removed > 0 {
		s.logger.Info("purged old state files", zap.Int("removed", removed))
	}
	return removed, nil
}

// datedStateFile extracts the date portion from a per-day state file name.
func datedStateFile(name string) (string, bool) {
	for _, prefix := range []string{checkpointPrefix, dedupPrefix, quotaPrefix} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			rest = strings.TrimSuffix(rest, ".json")
			rest = strings.TrimSuffix(rest, ".jsonl")
			return rest, true
		}
	}
	return "", false
}

func (s *Store) checkpointPath(date time.Time) string {
	return filepath.Join(s.dir, checkpointPrefix+date.Format(DateLayout)+".json")
}

func (s *Store) dedupPath(date time.Time) string {
	return filepath.Join(s.dir, dedupPrefix+date.Format(DateLayout)+".jsonl")
}

func (s *Store) quotaPath(date time.Time) string {
	return filepath.Join(s.dir, quotaPrefix+date.Format(DateLayout))
}

// writeAtomic writes data to path via a temp file and rename, so readers
// never observe a torn write.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file %s: %w", path, err)
	}
	return nil
}
