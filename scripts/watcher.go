package scripts

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op describes what happened to a script file.
type Op int

const (
	// Added: a new script appeared.
	Added Op = iota
	// Changed: an existing script was rewritten.
	Changed
	// Removed: a script was deleted or renamed away.
	Removed
)

func (op Op) String() string {
	switch op {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one observed change to the scripts directory.
type Event struct {
	Op   Op
	Path string
}

// Watcher reports script file changes so the menu layer can rescan.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	log    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the logger. Defaults to slog.Default().
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// Watch starts watching dir for script changes. Non-script files are
// filtered out before events reach the consumer.
func Watch(dir string, opts ...WatchOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		events: make(chan Event, 64),
		log:    slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.loop()
	return w, nil
}

// Events returns the change stream. Closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and closes the event stream.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) loop() {
	defer func() {
		close(w.events)
		close(w.done)
	}()

	for {
		select {
		case ev, open := <-w.fsw.Events:
			if !open {
				return
			}
			if !IsScriptFile(filepath.Base(ev.Name)) {
				continue
			}
			var op Op
			switch {
			case ev.Has(fsnotify.Create):
				op = Added
			case ev.Has(fsnotify.Write):
				op = Changed
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				op = Removed
			default:
				continue
			}
			select {
			case w.events <- Event{Op: op, Path: ev.Name}:
			default:
				// A consumer that stopped reading forfeits stale
				// change notices; the next rescan catches up.
				w.log.Debug("watch event dropped", "path", ev.Name)
			}

		case err, open := <-w.fsw.Errors:
			if !open {
				return
			}
			w.log.Warn("scripts watcher error", "err", err)
		}
	}
}
