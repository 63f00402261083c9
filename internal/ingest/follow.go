package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Follow watches the log directory and signals on events whenever the
// active log file is created or written. Signals are coalesced: a slow
// consumer sees at most one pending trigger. Follow blocks until ctx is
// cancelled.
func (r *Reader) Follow(ctx context.Context, events chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.logDir); err != nil {
		return fmt.Errorf("failed to watch log directory %s: %w", r.logDir, err)
	}

	r.logger.Info("following log directory", zap.String("dir", r.logDir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if event.Name != r.LogPath(time.Now()) {
				continue
			}
			select {
			case events <- struct{}{}:
			default:
				// A trigger is already pending.
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
