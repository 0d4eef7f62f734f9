package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/csvqa/csvqa/internal/storage"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads as soon as a tracked file in dir changes, instead of waiting
// for the next request's ReloadIfChanged. It blocks until ctx is done. Only
// local datasets can be watched.
func (m *Manager) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create dataset watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// watch the directory, not the files: writers that replace a file by
	// rename would otherwise silently drop the watch
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dataset dir %q: %w", dir, err)
	}

	tracked := map[string]struct{}{}
	for _, table := range m.tables {
		key, err := storage.DatasetKey(table, m.format)
		if err != nil {
			return err
		}
		tracked[key] = struct{}{}
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, isTracked := tracked[filepath.Base(event.Name)]; !isTracked {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending = time.After(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.WarnContext(ctx, "dataset_watch_error", slog.Any("error", err))
		case <-pending:
			pending = nil
			// failures are logged by ReloadIfChanged; the next event retries
			_, _ = m.ReloadIfChanged(ctx)
		}
	}
}
