package tenants

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const reloadDebounce = 500 * time.Millisecond

// Watch reloads the registry whenever something under the root changes,
// until ctx is done. Bursts of events are collapsed into one reload.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := r.addWatches(w); err != nil {
		return err
	}

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if r.relevant(event) {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			r.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			if err := r.Reload(); err != nil {
				r.logger.Error("reloading clients", zap.Error(err))
				continue
			}
			if err := r.addWatches(w); err != nil {
				r.logger.Error("watching client dirs", zap.Error(err))
			}
		}
	}
}

// relevant reports whether event can change the set of clients: a client
// directory coming or going, or a config file changing. Report and journal
// writes inside client directories are ignored.
func (r *Registry) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(filepath.Dir(event.Name)) == filepath.Clean(r.root) ||
		filepath.Base(event.Name) == ConfigFile
}

// addWatches watches the root and each client directory; fsnotify is not
// recursive.
func (r *Registry) addWatches(w *fsnotify.Watcher) error {
	if err := w.Add(r.root); err != nil {
		return fmt.Errorf("watching %s: %w", r.root, err)
	}
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(r.root, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
