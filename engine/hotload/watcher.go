package hotload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Registry reports which source paths are owned by a program. Cache implements it.
type Registry interface {
	Paths() []string
	Owner(path string) (ProgramHandle, bool)
}

// watcher is the implementation of the Watcher interface.
type watcher struct {
	fs        *fsnotify.Watcher
	registry  Registry
	debouncer Debouncer
	logger    *zap.Logger
	dirs      []string
}

// Watcher forwards file system changes on owned source paths to a Debouncer.
type Watcher interface {
	// Run forwards events until ctx is done, then closes the underlying watch.
	//
	// Parameters:
	//   - ctx: the context controlling the watcher's lifetime
	//
	// Returns:
	//   - error: nil once ctx is done, or the error that stopped the watch
	Run(ctx context.Context) error

	// Dirs returns the directories being watched.
	//
	// Returns:
	//   - []string: the watched directories
	Dirs() []string
}

var _ Watcher = &watcher{}

// WatcherBuilderOption configures a Watcher at construction.
type WatcherBuilderOption func(*watcher)

// WithWatcherLogger sets the logger watch errors are written to.
//
// Parameters:
//   - logger: the zap logger
//
// Returns:
//   - WatcherBuilderOption: a function that applies the logger option
func WithWatcherLogger(logger *zap.Logger) WatcherBuilderOption {
	return func(w *watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher starts watching the parent directory of every path the registry owns. Events are
// only delivered once Run is called.
//
// Parameters:
//   - registry: the owner of the source paths, usually the program cache
//   - debouncer: the debouncer changed paths are queued on
//   - options: variadic list of WatcherBuilderOption functions
//
// Returns:
//   - Watcher: the new watcher
//   - error: an error if a directory could not be watched
func NewWatcher(registry Registry, debouncer Debouncer, options ...WatcherBuilderOption) (Watcher, error) {
	w := &watcher{
		registry:  registry,
		debouncer: debouncer,
		logger:    zap.NewNop(),
	}

	for _, opt := range options {
		opt(w)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	seen := make(map[string]struct{})
	for _, path := range registry.Paths() {
		dir := filepath.Dir(path)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		if err := fs.Add(dir); err != nil {
			_ = fs.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		w.dirs = append(w.dirs, dir)
	}

	w.fs = fs
	return w, nil
}

func (w *watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := canonicalPath(ev.Name)
			if _, owned := w.registry.Owner(path); !owned {
				continue
			}
			w.logger.Debug("source changed", zap.String("path", path), zap.String("op", ev.Op.String()))
			if err := w.debouncer.NotifyContext(ctx, path); err != nil {
				return nil
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *watcher) Dirs() []string {
	return w.dirs
}
