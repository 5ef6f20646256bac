// Package watch follows directories of target lists and reports the
// entries that appear in them.
package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"astromorph/internal/fsutil"
)

// Event is a change to a target list file.
type Event struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // "created", "modified", "deleted", "renamed"
	Time      time.Time `json:"time"`
}

// Watcher monitors directories for target list changes. Bursts of writes to
// one file are coalesced into a single event.
type Watcher struct {
	watcher   *fsnotify.Watcher
	Events    chan Event
	watchDirs []string
	settle    time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
	stopped bool
}

// New creates a watcher over dirs. settle is how long a file must stay quiet
// before its event is delivered.
func New(dirs []string, settle time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   fw,
		Events:    make(chan Event, 100),
		watchDirs: dirs,
		settle:    settle,
		log:       logger,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}, nil
}

// Start adds the directories and begins delivering events.
func (w *Watcher) Start() error {
	for _, dir := range w.watchDirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}
	go w.processEvents()
	return nil
}

// Stop ends delivery and closes Events.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for _, t := range w.pending {
		t.Stop()
	}
	close(w.done)
	close(w.Events)
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			var op string
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				op = "created"
			case event.Op&fsnotify.Write == fsnotify.Write:
				op = "modified"
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				op = "deleted"
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				op = "renamed"
			default:
				continue
			}
			if !fsutil.IsTargetFile(event.Name) {
				continue
			}
			w.schedule(Event{Path: event.Name, Operation: op, Time: time.Now()})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// schedule delivers ev after the file has been quiet for the settle time.
func (w *Watcher) schedule(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[ev.Path]; ok {
		t.Stop()
	}
	w.pending[ev.Path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.pending, ev.Path)
		if w.stopped {
			return
		}
		select {
		case w.Events <- ev:
		default:
			w.log.Warn("event buffer full, dropping event", "path", ev.Path)
		}
	})
}
