// Package watcher observes the user pack root for out-of-band edits, so
// packs modified with an external editor show up without a restart.
// Rapid bursts of filesystem events (an unzip, a bulk copy) are debounced
// into a single change notification.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/keywave/internal/logging"
	"github.com/conneroisu/keywave/internal/manifest"
)

// DefaultDebounce is the settling delay before a burst of events is
// reported.
const DefaultDebounce = 300 * time.Millisecond

// ChangeHandler receives the distinct pack directories touched by a
// settled burst of filesystem events.
type ChangeHandler func(ctx context.Context, packDirs []string)

// PackWatcher watches the user pack root with debouncing.
type PackWatcher struct {
	log      logging.Logger
	root     string
	debounce time.Duration
	handler  ChangeHandler

	watcher *fsnotify.Watcher

	mutex   sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// New creates a watcher over the user pack root. The handler runs on the
// watcher goroutine after each settled burst.
func New(root string, debounce time.Duration, handler ChangeHandler, log logging.Logger) (*PackWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &PackWatcher{
		log:      log.WithComponent("watcher"),
		root:     root,
		debounce: debounce,
		handler:  handler,
		watcher:  w,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start registers the root and its pack directories and begins watching.
func (w *PackWatcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	go w.loop(ctx)

	w.log.Info(ctx, "watching user packs", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop closes the underlying watcher.
func (w *PackWatcher) Stop() error {
	w.mutex.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mutex.Unlock()

	return w.watcher.Close()
}

func (w *PackWatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *PackWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, err, "filesystem watch error")
		}
	}
}

// relevant filters events to manifest and sound files plus directory
// creation; editor temp files and our own atomic-write temp files are
// noise.
func relevant(path string) bool {
	if strings.HasSuffix(path, ".tmp") {
		return false
	}

	base := filepath.Base(path)
	if base == manifest.FileName {
		return true
	}

	switch strings.ToLower(filepath.Ext(base)) {
	case ".wav", ".mp3", ".ogg":
		return true
	}

	// Directory events carry no extension; a created pack directory must
	// be picked up so its contents get watched too.
	return filepath.Ext(base) == ""
}

func (w *PackWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if !relevant(event.Name) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.log.Warn(ctx, err, "cannot watch new directory", "dir", event.Name)
			}
		}
	}

	dir := w.packDir(event.Name)
	if dir == "" {
		return
	}

	w.mutex.Lock()
	w.pending[dir] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx) })
	w.mutex.Unlock()
}

// packDir maps an event path to the pack directory that owns it, or ""
// for events directly on the root.
func (w *PackWatcher) packDir(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}

	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	return filepath.Join(w.root, parts[0])
}

func (w *PackWatcher) flush(ctx context.Context) {
	w.mutex.Lock()
	if len(w.pending) == 0 {
		w.mutex.Unlock()
		return
	}
	dirs := make([]string, 0, len(w.pending))
	for dir := range w.pending {
		dirs = append(dirs, dir)
	}
	w.pending = make(map[string]struct{})
	w.mutex.Unlock()

	w.log.Debug(ctx, "pack changes settled", "dirs", len(dirs))
	w.handler(ctx, dirs)
}
