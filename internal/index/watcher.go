package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/camelscope/camelscope/internal/debug"
)

// Watcher monitors the workspace folders and triggers per-file reindexing
// through the manager. Events are debounced so editor save bursts reindex
// once.
type Watcher struct {
	watcher *fsnotify.Watcher
	manager *Manager

	debounce time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	timer   *time.Timer

	// OnBatch, when set, is called after each debounced batch; tests use
	// it to synchronize.
	OnBatch func(count int)
}

// NewWatcher creates a watcher bound to the manager.
func NewWatcher(manager *Manager, debounceMs int) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounceMs <= 0 {
		debounceMs = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		watcher:  fsw,
		manager:  manager,
		debounce: time.Duration(debounceMs) * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// Start adds watches for every directory under the workspace folders and
// begins processing events.
func (w *Watcher) Start() error {
	for _, folder := range w.manager.Folders() {
		if err := w.addWatches(folder); err != nil {
			return err
		}
	}
	w.wg.Add(1)
	go w.processEvents()
	debug.LogIndex("file watcher started for %d folders\n", len(w.manager.Folders()))
	return nil
}

// Stop shuts the watcher down and waits for the event loop.
func (w *Watcher) Stop() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) addWatches(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr == nil && rel != "." && w.manager.excluded(filepath.ToSlash(rel)+"/") {
			return filepath.SkipDir
		}
		if watchErr := w.watcher.Add(p); watchErr != nil {
			debug.LogIndex("cannot watch %s: %v\n", p, watchErr)
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			debug.LogIndex("watcher error: %v\n", err)
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// New directories need their own watches
	if ev.Op.Has(fsnotify.Create) {
		if stat, err := os.Stat(ev.Name); err == nil && stat.IsDir() {
			_ = w.addWatches(ev.Name)
			return
		}
	}
	if !w.relevant(ev.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[ev.Name] |= ev.Op
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// relevant reports whether the path matches the index filters of any
// workspace folder.
func (w *Watcher) relevant(p string) bool {
	for _, folder := range w.manager.Folders() {
		rel, err := filepath.Rel(folder, p)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		if w.manager.included(rel) && !w.manager.excluded(rel) {
			return true
		}
	}
	return false
}

// flush reindexes every pending path in one batch.
func (w *Watcher) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]fsnotify.Op)
	cb := w.OnBatch
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	start := time.Now()
	for p, op := range batch {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			w.manager.RemoveFile(p)
			continue
		}
		w.manager.IndexFile(p)
	}
	debug.LogIndex("reindexed %d changed files in %v\n", len(batch), time.Since(start))
	if cb != nil {
		cb(len(batch))
	}
}
