// Package watch re-runs work when its input files change on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gopkg.in/fsnotify.v1"
)

// DefaultDebounce collapses the burst of events an editor or exporter
// produces when it rewrites a file.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc is called after the watched files settle.
type ChangeFunc func(ctx context.Context) error

// FileWatcher calls a ChangeFunc whenever one of a fixed set of files is
// created, written or replaced. It watches the parent directories so
// editors that save by renaming are still seen.
type FileWatcher struct {
	files    map[string]bool
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange ChangeFunc
	logger   *slog.Logger
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithDebounce sets the quiet period before OnChange runs.
func WithDebounce(d time.Duration) Option {
	return func(w *FileWatcher) { w.debounce = d }
}

// WithLogger sets the logger for watch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *FileWatcher) { w.logger = logger }
}

// NewFileWatcher starts watching the directories of paths. Events are not
// delivered until Run is called.
func NewFileWatcher(paths []string, onChange ChangeFunc, opts ...Option) (*FileWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	if onChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}

	w := &FileWatcher{
		files:    make(map[string]bool, len(paths)),
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}
	w.watcher = watcher
	return w, nil
}

// Watches reports whether path is one of the watched files.
func (w *FileWatcher) Watches(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return w.files[abs]
}

// Run delivers change notifications until ctx is done, then closes the
// underlying watcher. Callback errors are logged and watching continues.
func (w *FileWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("watched file changed", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.onChange(ctx); err != nil {
				w.logger.Error("change handler failed", "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *FileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	return w.Watches(event.Name)
}
