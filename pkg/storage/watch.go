package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long Watch waits for changes to settle before syncing.
const DefaultDebounce = 500 * time.Millisecond

// Watch calls sync whenever files under root change, coalescing bursts of
// events. It blocks until ctx is done. Errors from sync are logged and do not
// stop the watch.
func Watch(ctx context.Context, root string, debounce time.Duration, logger zerolog.Logger, sync func(context.Context) error) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger = logger.With().Str("component", "storage-watch").Str("root", root).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	logger.Info().Msg("Watching for changes")

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(watcher, event.Name); err != nil {
						logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
				}
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("File changed")
			timer.Reset(debounce)

		case <-timer.C:
			if err := sync(ctx); err != nil {
				logger.Error().Err(err).Msg("Sync failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
