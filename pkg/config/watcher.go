package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce collapses bursts of filesystem events into one reload.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads manifests when their source files change, driving the
// continuous convergence mode.
type Watcher struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a manifest watcher.
func NewWatcher(logger zerolog.Logger) *Watcher {
	return &Watcher{logger: logger}
}

// Watch observes the given files and directories until ctx is canceled,
// invoking onChange after each debounced burst of manifest edits.
func (w *Watcher) Watch(ctx context.Context, sources []string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", source).Msg("failed to stat watch path")
			continue
		}
		if info.IsDir() {
			if err := w.watchDirectory(source); err != nil {
				w.logger.Warn().Err(err).Str("path", source).Msg("failed to watch directory")
			}
		} else {
			if err := watcher.Add(source); err != nil {
				w.logger.Warn().Err(err).Str("path", source).Msg("failed to watch file")
			}
		}
	}

	w.logger.Info().Int("paths", len(sources)).Msg("watching manifest sources")
	w.processEvents(ctx, onChange)
	return nil
}

// watchDirectory adds a directory tree to the watcher.
func (w *Watcher) watchDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// processEvents loops over filesystem events until the context ends.
func (w *Watcher) processEvents(ctx context.Context, onChange func()) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !isManifestFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("manifest file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(watchDebounce, onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func isManifestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".yaml", ".yml":
		return true
	}
	return false
}
