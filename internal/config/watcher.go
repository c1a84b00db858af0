package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow collapses editor write bursts into one reload.
const debounceWindow = 250 * time.Millisecond

// OverrideWatcher watches a project directory for changes to its
// .switchyard.yaml and invokes a callback with the freshly parsed overrides.
type OverrideWatcher struct {
	projectDir string
	onChange   func(*ProjectOverrides)

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// WatchProjectOverrides starts watching projectDir. The callback runs on the
// watcher goroutine; it receives nil when the override file is removed.
func WatchProjectOverrides(projectDir string, onChange func(*ProjectOverrides)) (*OverrideWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files on save and
	// a file watch would be lost after the first write.
	if err := fsw.Add(projectDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &OverrideWatcher{
		projectDir: projectDir,
		onChange:   onChange,
		watcher:    fsw,
		done:       make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *OverrideWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *OverrideWatcher) loop() {
	logger := slog.Default().With("component", "config.watcher")
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if name != ".switchyard.yaml" && name != ".switchyard.yml" {
				continue
			}
			w.scheduleReload(logger)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error", "dir", w.projectDir, "error", err)
		}
	}
}

func (w *OverrideWatcher) scheduleReload(logger *slog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceWindow, func() {
		ov, err := LoadProjectOverrides(w.projectDir)
		if err != nil {
			logger.Warn("reload failed", "dir", w.projectDir, "error", err)
			return
		}
		w.onChange(ov)
	})
}
