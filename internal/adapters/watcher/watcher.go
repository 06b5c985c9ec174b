// Package watcher implements the file subscriber using fsnotify.
//
// One fsnotify watcher is shared by every subscription. Directories are
// watched with a reference count, and events are routed to subscriptions by
// the cleaned full path of the changed file.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/clock"
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/ports"
)

// DefaultDebounce is the quiet window applied to bursts of writes.
const DefaultDebounce = 100 * time.Millisecond

// Watcher implements ports.FileSubscriber.
type Watcher struct {
	debounce time.Duration
	clock    clock.Clock

	mu        sync.RWMutex
	watcher   *fsnotify.Watcher
	running   bool
	cancel    context.CancelFunc
	debouncer *Debouncer

	dirs   map[string]int
	subs   map[string]map[uint64]*subscription
	nextID uint64
}

// NewWatcher creates a stopped watcher. clk may be nil.
func NewWatcher(debounce time.Duration, clk clock.Clock) *Watcher {
	if clk == nil {
		clk = clock.Real()
	}
	return &Watcher{
		debounce: debounce,
		clock:    clk,
		dirs:     make(map[string]int),
		subs:     make(map[string]map[uint64]*subscription),
	}
}

// Start creates the fsnotify watcher and begins the event loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.debouncer = NewDebouncer(w.debounce, w.clock, w.deliver)
	w.running = true

	go w.eventLoop(watchCtx, fsw)

	log.Info().
		Dur("debounce", w.debounce).
		Msg("file watcher started")

	return nil
}

// Stop terminates file watching. Existing subscriptions stop receiving
// notifications; closing them afterwards is still safe.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false

	if w.cancel != nil {
		w.cancel()
	}
	if w.debouncer != nil {
		w.debouncer.Stop()
	}

	for _, byID := range w.subs {
		for _, sub := range byID {
			sub.closed.Store(true)
		}
	}
	w.subs = make(map[string]map[uint64]*subscription)
	w.dirs = make(map[string]int)

	err := w.watcher.Close()
	w.watcher = nil
	log.Info().Msg("file watcher stopped")
	return err
}

// IsRunning returns true if the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// WatchedDirs returns the number of directories currently watched.
func (w *Watcher) WatchedDirs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.dirs)
}

// Subscribe implements ports.FileSubscriber.
func (w *Watcher) Subscribe(dir, name string, onChange func()) (ports.Subscription, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil, domain.ErrWatcherNotRunning
	}

	dir = filepath.Clean(dir)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		log.Debug().Str("dir", dir).Msg("watching directory")
	}
	w.dirs[dir]++

	w.nextID++
	sub := &subscription{
		owner:    w,
		id:       w.nextID,
		dir:      dir,
		path:     filepath.Join(dir, name),
		onChange: onChange,
	}
	if w.subs[sub.path] == nil {
		w.subs[sub.path] = make(map[uint64]*subscription)
	}
	w.subs[sub.path][sub.id] = sub

	return sub, nil
}

func (w *Watcher) unsubscribe(sub *subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()

	byID, ok := w.subs[sub.path]
	if !ok {
		return
	}
	if _, ok := byID[sub.id]; !ok {
		return
	}
	delete(byID, sub.id)
	if len(byID) == 0 {
		delete(w.subs, sub.path)
		if w.debouncer != nil {
			w.debouncer.Cancel(sub.path)
		}
	}

	w.dirs[sub.dir]--
	if w.dirs[sub.dir] > 0 {
		return
	}
	delete(w.dirs, sub.dir)
	if w.watcher != nil {
		if err := w.watcher.Remove(sub.dir); err != nil {
			log.Debug().Err(err).Str("dir", sub.dir).Msg("failed to remove watch")
		}
	}
}

// eventLoop handles fsnotify events.
func (w *Watcher) eventLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

// handleEvent filters to writes and creates of subscribed files. Creates
// cover editors and loggers that replace the file by rename.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	path := filepath.Clean(event.Name)

	w.mu.RLock()
	_, subscribed := w.subs[path]
	debouncer := w.debouncer
	w.mu.RUnlock()

	if !subscribed || debouncer == nil {
		return
	}
	debouncer.Add(path)
}

// deliver is called after the debounce window expires.
func (w *Watcher) deliver(path string) {
	w.mu.RLock()
	byID := w.subs[path]
	targets := make([]*subscription, 0, len(byID))
	for _, sub := range byID {
		targets = append(targets, sub)
	}
	w.mu.RUnlock()

	log.Debug().Str("path", path).Int("subscribers", len(targets)).Msg("file changed")

	for _, sub := range targets {
		if !sub.closed.Load() {
			sub.onChange()
		}
	}
}

type subscription struct {
	owner    *Watcher
	id       uint64
	dir      string
	path     string
	onChange func()
	closed   atomic.Bool
}

// Close implements ports.Subscription.
func (s *subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.owner.unsubscribe(s)
	return nil
}

var _ ports.FileSubscriber = (*Watcher)(nil)
