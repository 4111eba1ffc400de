// ABOUTME: Directory watcher that rescans the library when files change
// ABOUTME: Events are debounced so a batch copy triggers a single scan
package library

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch rescans after filesystem changes until ctx is done. onScan, if set,
// runs after each successful rescan.
func (l *Library) Watch(ctx context.Context, debounce time.Duration, onScan func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addTree(watcher, l.config.Dir); err != nil {
		return err
	}

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
			if event.Has(fsnotify.Create) {
				// new subdirectories need their own watch
				if err := addTree(watcher, event.Name); err != nil {
					l.log.Debug("watch add failed", zap.String("path", event.Name), zap.Error(err))
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			if err := l.Scan(); err != nil {
				l.log.Warn("rescan failed", zap.Error(err))
				continue
			}
			if onScan != nil {
				onScan()
			}
		}
	}
}

// addTree watches root and every directory below it
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
