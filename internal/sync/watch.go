package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes path for writes and invokes trigger after each quiet
// period of debounce. The watch is placed on the parent directory so it
// survives atomic replace-by-rename, which is how message databases are
// checkpointed. Watch blocks until ctx is canceled.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, trigger func(context.Context)) error {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sync: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("sync: watching %s: %w", dir, err)
	}

	logger.Info("watching for changes", slog.String("path", path))

	// The timer starts stopped; the first relevant event arms it.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	base := filepath.Base(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("sync: watcher closed")
			}

			// SQLite writes land in the -wal sidecar; count those too.
			name := filepath.Base(ev.Name)
			if name != base && name != base+"-wal" {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("sync: watcher closed")
			}

			logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			logger.Debug("change settled, triggering sync", slog.String("path", path))
			trigger(ctx)
		}
	}
}
