// Package watcher drops the enabled-plugin cache when plugin directories change on disk.
package watcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/enabledset"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// Watcher watches the plugins directory and every plugin directory directly below it.
type Watcher struct {
	root    string
	cache   enabledset.LifecycleCache
	watcher *fsnotify.Watcher
	log     logger.Logger
}

func New(root string, cache enabledset.LifecycleCache) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		cache:   cache,
		watcher: fsWatcher,
		log:     logger.GetLogger().WithField("component", "watcher"),
	}, nil
}

// Start begins watching; the loop ends with ctx or Stop.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			w.add(filepath.Join(w.root, e.Name()))
		}
	}

	w.log.Info("Started monitoring plugins directory", logger.Fields{"path": w.root})
	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.handleChange(ctx, event)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("File watcher error", logger.Fields{"error": err.Error()})
		}
	}
}

// relevant keeps plugin directories appearing or disappearing and manifest edits.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	dir := filepath.Dir(event.Name)
	if filepath.Clean(dir) == filepath.Clean(w.root) {
		if event.Op.Has(fsnotify.Create) {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.add(event.Name)
			}
		}
		return event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
	}
	return filepath.Base(event.Name) == constants.ManifestFile &&
		event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}

func (w *Watcher) handleChange(ctx context.Context, event fsnotify.Event) {
	w.log.Debug("Plugins directory changed", logger.Fields{
		"path": event.Name,
		"op":   event.Op.String(),
	})
	if err := w.cache.Invalidate(ctx); err != nil {
		w.log.Error("Failed to invalidate plugin cache", logger.Fields{"error": err.Error()})
	}
}

func (w *Watcher) add(dir string) {
	if err := w.watcher.Add(dir); err != nil {
		w.log.Warn("Cannot watch plugin directory", logger.Fields{"path": dir, "error": err.Error()})
	}
}
