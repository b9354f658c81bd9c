// Package watcher turns filesystem writes under the sync directories into a
// batched stream of {folder, filename} events, polled once per second rather
// than dispatched as they arrive: a burst of writes to the same file should
// be coalesced into a single event, and downstream handlers run off the
// event loop instead of inside the fsnotify callback.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Klingon-tech/controller-core/internal/log"
)

// Event names the folder (by its caller-supplied label, not the absolute
// path) and the filename that changed within it.
type Event struct {
	Folder   string
	Filename string
}

// Watcher watches a fixed set of labeled directories and accumulates
// create/write events into a deduplicated batch, drained once per dispatch
// tick.
type Watcher struct {
	fsw          *fsnotify.Watcher
	dirLabels    map[string]string // absolute dir path -> label
	dispatchTick time.Duration

	mu      sync.Mutex
	pending map[Event]struct{}
}

// New creates a Watcher over the given label->directory map.
func New(dirs map[string]string, dispatchTick time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dirLabels := make(map[string]string, len(dirs))
	for label, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			fsw.Close()
			return nil, err
		}
		if err := fsw.Add(abs); err != nil {
			fsw.Close()
			return nil, err
		}
		dirLabels[abs] = label
	}
	return &Watcher{
		fsw:          fsw,
		dirLabels:    dirLabels,
		dispatchTick: dispatchTick,
		pending:      make(map[Event]struct{}),
	}, nil
}

// Watch accumulates fsnotify events until ctx is cancelled. Run it in its
// own goroutine.
func (w *Watcher) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			dir, file := filepath.Split(ev.Name)
			label, known := w.dirLabels[filepath.Clean(dir)]
			if !known {
				continue
			}
			w.mu.Lock()
			w.pending[Event{Folder: label, Filename: file}] = struct{}{}
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Watcher.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

// FetchEvents drains and returns the accumulated event batch.
func (w *Watcher) FetchEvents() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	events := make([]Event, 0, len(w.pending))
	for ev := range w.pending {
		events = append(events, ev)
	}
	w.pending = make(map[Event]struct{})
	return events
}

// Run drains FetchEvents once per dispatchTick and calls handle with the
// batch, until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, handle func([]Event)) {
	ticker := time.NewTicker(w.dispatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events := w.FetchEvents()
			if len(events) > 0 {
				handle(events)
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
