package registry

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounceInterval batches rapid writes (editors often write a
// temp file and rename) into a single reload.
const watchDebounceInterval = 500 * time.Millisecond

// Watch monitors the trust store file and reloads the registry when it
// changes, invoking onChange after each successful reload. Blocks until
// the context is cancelled. The parent directory is watched rather than
// the file itself so atomic-rename saves are seen.
func (r *Registry) Watch(ctx context.Context, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	logger.Info("trust store watcher started", slog.String("path", r.path))

	var pending bool

	ticker := time.NewTicker(watchDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = true
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			logger.Warn("trust store watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if !pending {
				continue
			}

			pending = false

			if err := r.Reload(); err != nil {
				logger.Warn("trust store reload failed", slog.String("error", err.Error()))
				continue
			}

			logger.Info("trust store reloaded", slog.String("path", r.path))

			if onChange != nil {
				onChange()
			}
		}
	}
}
