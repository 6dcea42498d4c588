package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/psantana5/watch-and-recover/internal/logging"
)

// reloadDebounce collapses the burst of events an editor save produces
const reloadDebounce = 250 * time.Millisecond

// WatchConfig calls reload after path was written or replaced and blocks
// until ctx is done. The parent directory is watched so editors that save
// through rename are noticed too. A failing reload is logged and the
// previous configuration stays active.
func WatchConfig(ctx context.Context, path string, logger *logging.Logger, reload func() error) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	logger.Info("Watching config for changes", logging.Fields{"path": path})

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("Config file changed", logging.Fields{"op": event.Op.String()})
			debounce = time.After(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Warn("Config watcher error", logging.Fields{"error": err.Error()})

		case <-debounce:
			debounce = nil
			if err := reload(); err != nil {
				logger.Error("Config reload failed, keeping the previous config", logging.Fields{"error": err.Error()})
				continue
			}
			logger.Info("Config reloaded", logging.Fields{"path": path})
		}
	}
}
