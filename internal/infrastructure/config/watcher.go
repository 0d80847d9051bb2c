package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchEventType represents the type of change to the config file.
type WatchEventType string

// Watch event types.
const (
	WatchEventWrite  WatchEventType = "write"
	WatchEventRemove WatchEventType = "remove"
)

// WatchEvent reports a settled change of the watched config file.
type WatchEvent struct {
	Path      string
	Type      WatchEventType
	Timestamp time.Time
}

// WatcherConfig holds configuration for the config watcher.
type WatcherConfig struct {
	DebounceDuration time.Duration
	BufferSize       int
}

// DefaultWatcherConfig returns sensible default configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		DebounceDuration: 250 * time.Millisecond,
		BufferSize:       8,
	}
}

// Watcher monitors one config file for changes.
//
// The parent directory is watched rather than the file itself so that
// editors that save by writing a temp file and renaming it over the
// original keep producing events. Bursts of events are collapsed into one.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	config    WatcherConfig
	path      string
	events    chan WatchEvent
	errors    chan error

	pending   *WatchEvent
	pendingMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, cfg WatcherConfig) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8
	}
	if cfg.DebounceDuration <= 0 {
		cfg.DebounceDuration = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		fsWatcher: fsWatcher,
		config:    cfg,
		path:      abs,
		events:    make(chan WatchEvent, cfg.BufferSize),
		errors:    make(chan error, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins watching. The config file's directory must exist.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.processEvents()
	go w.debounceProcessor()
	return nil
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Events returns the channel for receiving watch events.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Errors returns the channel for receiving watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}

			eventType := convertEventType(event.Op)
			if eventType == "" {
				continue
			}

			w.pendingMu.Lock()
			w.pending = &WatchEvent{Path: w.path, Type: eventType, Timestamp: time.Now()}
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) debounceProcessor() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.emitStableEvent()
		}
	}
}

// emitStableEvent emits the pending event once no newer event arrived
// within the debounce window.
func (w *Watcher) emitStableEvent() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if w.pending == nil || time.Since(w.pending.Timestamp) < w.config.DebounceDuration {
		return
	}
	event := *w.pending
	w.pending = nil

	select {
	case w.events <- event:
	default:
		// A reload is already queued.
	}
}

// convertEventType maps fsnotify operations onto watch events. Create and
// rename-over count as writes of the file.
func convertEventType(op fsnotify.Op) WatchEventType {
	switch {
	case op.Has(fsnotify.Create), op.Has(fsnotify.Write):
		return WatchEventWrite
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return WatchEventRemove
	default:
		return ""
	}
}
