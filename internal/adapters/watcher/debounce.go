package watcher

import (
	"sync"
	"time"

	"github.com/brianly1003/filesensor/internal/clock"
)

type pendingEvent struct {
	timer *clock.Timer
	seq   uint64
}

// Debouncer coalesces rapid file system events per path. The callback runs
// once the path has been quiet for the window.
type Debouncer struct {
	window   time.Duration
	clock    clock.Clock
	callback func(path string)

	mu      sync.Mutex
	pending map[string]*pendingEvent
	seq     uint64
	stopped bool
}

// NewDebouncer creates a new debouncer with the given window and callback.
// A window of zero or less delivers every event immediately.
func NewDebouncer(window time.Duration, clk clock.Clock, callback func(path string)) *Debouncer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Debouncer{
		window:   window,
		clock:    clk,
		callback: callback,
		pending:  make(map[string]*pendingEvent),
	}
}

// Add queues an event for path, restarting its quiet window.
func (d *Debouncer) Add(path string) {
	if d.window <= 0 {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.callback(path)
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if existing, ok := d.pending[path]; ok {
		existing.timer.Stop()
	}

	d.seq++
	seq := d.seq
	d.pending[path] = &pendingEvent{
		seq:   seq,
		timer: d.clock.AfterFunc(d.window, func() { d.fire(path, seq) }),
	}
}

// Cancel drops any pending event for path.
func (d *Debouncer) Cancel(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.pending[path]; ok {
		existing.timer.Stop()
		delete(d.pending, path)
	}
}

// Pending returns the number of paths waiting for their window to expire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Debouncer) fire(path string, seq uint64) {
	d.mu.Lock()
	event, ok := d.pending[path]
	// A timer that lost the race with a newer Add must not fire early.
	if !ok || event.seq != seq || d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.mu.Unlock()

	if d.callback != nil {
		d.callback(path)
	}
}

// Stop stops all pending timers. Events added after Stop are dropped.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for _, event := range d.pending {
		event.timer.Stop()
	}
	d.pending = make(map[string]*pendingEvent)
}
