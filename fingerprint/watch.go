package fingerprint

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veex0x01/stackscope/reporting"
)

// ReloadDelay coalesces the burst of events an editor produces on save
var ReloadDelay = 500 * time.Millisecond

// Watcher reloads a catalog file whenever it changes on disk.
// A reload that fails to parse keeps the previous catalog.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *reporting.Logger
	onChange func(*Catalog)

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}

	// reloadMu is held for a whole reload so Close can wait it out
	reloadMu sync.Mutex
}

// Watch starts watching path and calls onChange with every successfully
// reloaded catalog. The directory is watched rather than the file so that
// atomic rename-on-save keeps working.
func Watch(path string, logger *reporting.Logger, onChange func(*Catalog)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	w := &Watcher{
		path:     abs,
		watcher:  fw,
		logger:   reporting.OrNop(logger).WithModule("catalog"),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Close stops watching. A reload in progress finishes first; onChange is
// never called after Close returns, so onChange must not call Close.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.reloadMu.Lock()
	w.reloadMu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(ReloadDelay, w.reload)
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Watcher) reload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.isClosed() {
		return
	}

	cat, err := Load(w.path)
	if err != nil {
		w.logger.Warn("reload of %s failed, keeping previous catalog: %v", w.path, err)
		return
	}
	for _, cerr := range cat.Errors {
		w.logger.Warn("%v", cerr)
	}
	if w.isClosed() {
		return
	}
	w.logger.Info("Reloaded %d fingerprints from %s", cat.Len(), w.path)

	if w.onChange != nil {
		w.onChange(cat)
	}
}
