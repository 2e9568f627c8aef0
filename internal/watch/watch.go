// Package watch invalidates summaries when source files change on disk.
// Events are debounced so one save that touches many files produces one
// invalidation pass.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"ariadne/internal/apperr"
	"ariadne/internal/dualwrite"
	"ariadne/internal/logging"
)

const defaultDebounce = 500 * time.Millisecond

// Invalidator is the slice of the dual-write coordinator the watcher needs.
type Invalidator interface {
	MarkSummariesStaleByFile(ctx context.Context, path string) (int64, error)
}

var _ Invalidator = (*dualwrite.Coordinator)(nil)

// Watcher observes a project checkout.
type Watcher struct {
	root     string
	inv      Invalidator
	debounce time.Duration
}

// New creates a watcher over root.
func New(root string, inv Invalidator, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{root: root, inv: inv, debounce: debounce}
}

// relevant reports whether a path is a JVM source or bytecode file.
func relevant(path string) bool {
	switch filepath.Ext(path) {
	case ".java", ".class", ".kt":
		return true
	}
	return false
}

// Run watches until ctx is cancelled. Directories created while running are
// added to the watch set; changed files are batched per debounce window.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "create filesystem watcher")
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	log := logging.Get(logging.CategoryWatch)
	log.Infow("watching", "root", w.root, "debounce", w.debounce)

	pending := map[string]struct{}{}
	var flush *time.Timer
	var flushC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(event.Name); statErr == nil && info.IsDir() {
					if addErr := w.addTree(fsw, event.Name); addErr != nil {
						log.Warnw("watch add failed", "path", event.Name, "error", addErr)
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !relevant(event.Name) {
				continue
			}
			rel, relErr := filepath.Rel(w.root, event.Name)
			if relErr != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			if flush == nil {
				flush = time.NewTimer(w.debounce)
			} else {
				flush.Reset(w.debounce)
			}
			flushC = flush.C
		case <-flushC:
			w.invalidate(ctx, pending)
			pending = map[string]struct{}{}
			flushC = nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warnw("watch error", "error", err)
		}
	}
}

func (w *Watcher) invalidate(ctx context.Context, paths map[string]struct{}) {
	log := logging.Get(logging.CategoryWatch)
	var total int64
	for path := range paths {
		n, err := w.inv.MarkSummariesStaleByFile(ctx, sourcePath(path))
		if err != nil {
			log.Errorw("invalidation failed", "path", path, "error", err)
			continue
		}
		total += n
	}
	log.Infow("change batch processed", "files", len(paths), "summaries_invalidated", total)
}

// sourcePath maps a compiled class file back to the source path recorded in
// the graph.
func sourcePath(path string) string {
	if strings.HasSuffix(path, ".class") {
		path = strings.TrimSuffix(path, ".class") + ".java"
		// Inner classes compile to Outer$Inner.class but live in Outer.java.
		if i := strings.Index(path, "$"); i >= 0 {
			path = path[:i] + ".java"
		}
	}
	return path
}

// addTree registers a directory and everything below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		switch d.Name() {
		case ".git", "target", "build", "node_modules":
			return filepath.SkipDir
		}
		if addErr := fsw.Add(path); addErr != nil {
			return apperr.Wrap(apperr.KindUnavailable, addErr, "watch %s", path)
		}
		return nil
	})
}
