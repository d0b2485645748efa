package watch

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 100 * time.Millisecond

// Reloader re-reads canonical state from disk. Implemented by chat.Store.
type Reloader interface {
	Reload()
}

// StateFileWatcher watches the persisted sessions file via fsnotify and
// reloads the store when an external writer changes it. This is the
// server-side analogue of a browser tab reacting to another tab's
// localStorage write.
//
// The data directory is watched rather than the file itself: saves are
// rename-based, and a watch on the file path would be lost after the first
// rename.
type StateFileWatcher struct {
	dir      string
	filename string
	reloader Reloader
	watcher  *fsnotify.Watcher
	done     chan struct{}

	timerMu sync.Mutex
	timer   *time.Timer
}

func NewStateFileWatcher(sessionsPath string, reloader Reloader) *StateFileWatcher {
	return &StateFileWatcher{
		dir:      filepath.Dir(sessionsPath),
		filename: filepath.Base(sessionsPath),
		reloader: reloader,
		done:     make(chan struct{}),
	}
}

func (w *StateFileWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher

	go w.eventLoop()
	slog.Info("StateFileWatcher started", "dir", w.dir)
	return nil
}

func (w *StateFileWatcher) Stop() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	slog.Info("StateFileWatcher stopped")
}

func (w *StateFileWatcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("state file watcher error", "error", err)
		}
	}
}

// scheduleReload debounces bursts of events into a single reload.
func (w *StateFileWatcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceInterval, func() {
		slog.Debug("state file changed, reloading sessions")
		w.reloader.Reload()
	})
}
