// Package watch observes a source tree and triggers a callback after
// bursts of changes settle.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a repository for source file changes and invokes
// OnBatch once per settled burst. It watches directories recursively and
// picks up directories created while running.
type Watcher struct {
	root      string
	sourceExt string
	skipDirs  []string
	debounce  *Debouncer
	logger    *slog.Logger

	// OnBatch receives the distinct changed paths of one burst. Errors
	// are logged and watching continues.
	OnBatch func(ctx context.Context, paths []string) error
}

// New creates a watcher over root. skipDirs are directory names never
// descended into.
func New(root, sourceExt string, skipDirs []string, interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:      root,
		sourceExt: sourceExt,
		skipDirs:  skipDirs,
		debounce:  NewDebouncer(interval),
		logger:    logger,
	}
}

// Run watches until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	defer w.debounce.Stop()

	if err := w.registerTree(fsw, w.root); err != nil {
		return err
	}
	w.logger.Info("watching for changes", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case batch := <-w.debounce.Out():
			if w.OnBatch == nil {
				continue
			}
			if err := w.OnBatch(ctx, batch); err != nil {
				w.logger.Error("batch processing failed", "files", len(batch), "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	name := event.Name

	// New directories need their own watch registration.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() && w.isWatchableDir(name) {
			if err := w.registerTree(fsw, name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", name, "error", err)
			}
		}
	}

	if !strings.HasSuffix(name, w.sourceExt) {
		return
	}
	if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
		w.debounce.Add(name)
	}
}

// registerTree adds dir and all its nested directories to the watcher.
func (w *Watcher) registerTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && !w.isWatchableDir(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) isWatchableDir(path string) bool {
	name := filepath.Base(path)
	if name == ".git" {
		return false
	}
	for _, d := range w.skipDirs {
		if name == d {
			return false
		}
	}
	return true
}
