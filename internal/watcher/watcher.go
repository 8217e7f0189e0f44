// Package watcher keeps the library index in sync with the library
// directories on disk.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/logging"
)

// DefaultDebounce is how long a path must stay quiet before it is reindexed.
const DefaultDebounce = 500 * time.Millisecond

// Target is the part of the service the watcher drives.
type Target interface {
	LibraryDirs() []string
	SupportsFile(path string) bool
	ReindexFile(ctx context.Context, path string) (int, error)
	RemoveFile(ctx context.Context, path string) error
}

// Watcher reindexes library files after they change and drops the entries
// of files that disappear.
type Watcher struct {
	target    Target
	fsw       *fsnotify.Watcher
	debounce  time.Duration
	recursive bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRecursive also watches subdirectories, including ones created later.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// New starts watching every existing library directory. Missing directories
// are logged and skipped.
func New(ctx context.Context, target Target, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create file watcher")
	}
	w := &Watcher{target: target, fsw: fsw, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}

	watched := 0
	for _, dir := range target.LibraryDirs() {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			logging.From(ctx).Warn("library directory not found, not watching", slog.String("dir", dir))
			continue
		}
		if err := w.add(ctx, dir); err != nil {
			_ = fsw.Close()
			return nil, err
		}
		watched++
	}
	if watched == 0 {
		_ = fsw.Close()
		return nil, goerr.New("no library directory to watch", goerr.V("dirs", target.LibraryDirs()))
	}
	return w, nil
}

func (w *Watcher) add(ctx context.Context, dir string) error {
	if !w.recursive {
		if err := w.fsw.Add(dir); err != nil {
			return goerr.Wrap(err, "failed to watch directory", goerr.V("dir", dir))
		}
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.From(ctx).Warn("cannot access path", slog.String("path", path), logging.ErrAttr(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return goerr.Wrap(err, "failed to watch directory", goerr.V("dir", path))
		}
		return nil
	})
}

// Run processes file events until ctx is done. Changes are applied after
// the debounce window so an editor's write burst costs one reindex.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.From(ctx)
	pending := map[string]struct{}{}
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && w.recursive {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.add(ctx, ev.Name); err != nil {
						logger.Warn("failed to watch new directory", logging.ErrAttr(err))
					}
					continue
				}
			}
			if !w.target.SupportsFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", logging.ErrAttr(err))

		case <-timer.C:
			w.flush(ctx, pending)
			pending = map[string]struct{}{}
		}
	}
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	logger := logging.From(ctx)
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := w.target.RemoveFile(ctx, path); err != nil {
				logger.Warn("failed to remove file from index", slog.String("file", path), logging.ErrAttr(err))
				continue
			}
			logger.Info("removed file from index", slog.String("file", path))
			continue
		}
		n, err := w.target.ReindexFile(ctx, path)
		if err != nil {
			logger.Warn("failed to reindex file", slog.String("file", path), logging.ErrAttr(err))
			continue
		}
		logger.Info("reindexed file", slog.String("file", path), slog.Int("chunks", n))
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
