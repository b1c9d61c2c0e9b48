// Package workspace provides the monitor's collaborators backed by the local
// checkout: a recursive fsnotify watcher, git status and external
// code-quality commands.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/marcus/taskmaster/internal/logging"
	"github.com/marcus/taskmaster/internal/tasks"
)

// skipDirs are never watched.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// FileWatcher accumulates changed workspace paths between polls.
type FileWatcher struct {
	root     string
	patterns []string
	watcher  *fsnotify.Watcher
	logger   *logging.Logger

	mu      sync.Mutex
	changed map[string]struct{}
	err     error

	done chan struct{}
}

// NewFileWatcher watches root and every directory below it. Only paths
// matching one of patterns (doublestar globs relative to root) are reported;
// no patterns means every file.
func NewFileWatcher(root string, patterns []string) (*FileWatcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, &tasks.ConfigError{Source: "monitor.files.patterns", Err: fmt.Errorf("invalid pattern %q", p)}
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &tasks.IOError{Op: "create watcher", Err: err}
	}
	w := &FileWatcher{
		root:     root,
		patterns: patterns,
		watcher:  fw,
		logger:   logging.Component("workspace"),
		changed:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		return nil, &tasks.IOError{Op: "watch", Path: root, Err: err}
	}

	go w.run()
	return w, nil
}

func (w *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FileWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WarnCtx("watcher error", map[string]any{"error": err})
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
		}
	}
}

func (w *FileWatcher) handle(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDirs[filepath.Base(ev.Name)] {
				if err := w.addTree(ev.Name); err != nil {
					w.logger.WarnCtx("watch new directory", map[string]any{"path": ev.Name, "error": err})
				}
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	rel = filepath.ToSlash(rel)
	if !w.Match(rel) {
		return
	}
	w.mu.Lock()
	w.changed[rel] = struct{}{}
	w.mu.Unlock()
}

// Match reports whether a slash-separated path relative to the root is
// covered by the watcher's patterns.
func (w *FileWatcher) Match(rel string) bool {
	if len(w.patterns) == 0 {
		return true
	}
	for _, p := range w.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Poll returns the paths changed since the previous poll, sorted. A watcher
// error seen since then is returned once.
func (w *FileWatcher) Poll(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		err := w.err
		w.err = nil
		return nil, &tasks.IOError{Op: "watch", Path: w.root, Err: err}
	}
	if len(w.changed) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(w.changed))
	for p := range w.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	w.changed = make(map[string]struct{})
	return out, nil
}

// Close stops watching.
func (w *FileWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
