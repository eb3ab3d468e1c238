package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors pipeline definition files and signals when they change.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	files     map[string]bool // absolute paths
	debounce  time.Duration
	onChange  chan struct{}
	errs      chan error
	done      chan struct{}
}

// WatchConfig holds watcher configuration options.
type WatchConfig struct {
	Paths       []string
	DebounceDur time.Duration
}

// DefaultWatchConfig returns sensible defaults for the watcher.
func DefaultWatchConfig(paths ...string) WatchConfig {
	return WatchConfig{
		Paths:       paths,
		DebounceDur: 250 * time.Millisecond,
	}
}

// NewWatcher creates a new definition file watcher.
func NewWatcher(cfg WatchConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	files := make(map[string]bool, len(cfg.Paths))
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		files[abs] = true
	}
	return &Watcher{
		fsWatcher: fsw,
		files:     files,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan struct{}, 1),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the directories containing the files.
// Returns a channel that receives a signal when any file changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	// Editors replace files with rename+create, so watch directories.
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Errors returns watcher errors. The most recent error is kept when nobody
// is reading.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop feeds relevant events into a debounce timer. Each event pushes the
// timer back; when it finally fires, signal runs on the timer goroutine.
func (w *Watcher) loop() {
	debounced := time.AfterFunc(time.Hour, w.signal)
	debounced.Stop()
	defer debounced.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.isRelevantEvent(event) {
				debounced.Reset(w.debounce)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

// signal notifies onChange. A signal nobody has read yet already covers
// this change.
func (w *Watcher) signal() {
	select {
	case w.onChange <- struct{}{}:
	default:
	}
}

// report replaces any unread error with err.
func (w *Watcher) report(err error) {
	select {
	case <-w.errs:
	default:
	}
	select {
	case w.errs <- err:
	default:
	}
}

// isRelevantEvent checks if the event should trigger a reload.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return w.files[abs]
}
