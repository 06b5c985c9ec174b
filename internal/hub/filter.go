package hub

import (
	"sort"

	"github.com/brianly1003/filesensor/internal/domain/events"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/sync"
)

// keyedEvent is implemented by events that belong to a single sensor.
type keyedEvent interface {
	SensorKey() string
}

// FilteredSubscriber wraps a subscriber and forwards only the sensor events
// for the keys it follows. Events that carry no sensor key are always
// forwarded, and an empty filter forwards everything.
type FilteredSubscriber struct {
	inner ports.Subscriber

	mu   sync.RWMutex
	keys map[string]bool
}

// NewFilteredSubscriber creates a filter following keys.
func NewFilteredSubscriber(inner ports.Subscriber, keys ...string) *FilteredSubscriber {
	f := &FilteredSubscriber{
		inner: inner,
		keys:  make(map[string]bool, len(keys)),
	}
	for _, k := range keys {
		if k != "" {
			f.keys[k] = true
		}
	}
	return f
}

func (f *FilteredSubscriber) ID() string {
	return f.inner.ID()
}

// Send forwards event if it passes the filter.
func (f *FilteredSubscriber) Send(event events.Event) error {
	if !f.shouldForward(event) {
		return nil
	}
	return f.inner.Send(event)
}

func (f *FilteredSubscriber) Close() error {
	return f.inner.Close()
}

func (f *FilteredSubscriber) Done() <-chan struct{} {
	return f.inner.Done()
}

// Follow adds key to the filter.
func (f *FilteredSubscriber) Follow(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
}

// Unfollow removes key from the filter.
func (f *FilteredSubscriber) Unfollow(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
}

// Keys returns the followed keys, sorted.
func (f *FilteredSubscriber) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.keys))
	for k := range f.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *FilteredSubscriber) shouldForward(event events.Event) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.keys) == 0 {
		return true
	}
	keyed, ok := event.(keyedEvent)
	if !ok {
		return true
	}
	key := keyed.SensorKey()
	return key == "" || f.keys[key]
}

var _ ports.Subscriber = (*FilteredSubscriber)(nil)
