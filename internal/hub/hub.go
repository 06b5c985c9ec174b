// Package hub implements the event hub that fans sensor events out to live
// subscribers such as WebSocket clients.
package hub

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/domain/events"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/sync"
)

// SnapshotFunc builds the event a subscriber receives when it registers.
type SnapshotFunc func() events.Event

// Hub is the central event dispatcher. Registration, removal and broadcast
// all go through a single loop, so a new subscriber's snapshot is always
// delivered before any event published after Subscribe returns.
type Hub struct {
	subscribers map[string]ports.Subscriber

	broadcast  chan events.Event
	register   chan ports.Subscriber
	unregister chan string

	mu sync.RWMutex

	done    chan struct{}
	running bool

	snapshot  SnapshotFunc
	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a new Hub. snapshot may be nil.
func New(snapshot SnapshotFunc) *Hub {
	return &Hub{
		subscribers: make(map[string]ports.Subscriber),
		broadcast:   make(chan events.Event, 256),
		register:    make(chan ports.Subscriber),
		unregister:  make(chan string),
		done:        make(chan struct{}),
		snapshot:    snapshot,
	}
}

// Start begins the hub's main loop.
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	log.Debug().Msg("event hub started")

	go h.run()
	return nil
}

// Stop closes every subscriber and ends the main loop. A stopped hub
// cannot be restarted.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.done)

	for _, sub := range h.subscribers {
		_ = sub.Close()
	}
	h.subscribers = make(map[string]ports.Subscriber)
	h.mu.Unlock()

	log.Debug().
		Int64("published", h.published.Load()).
		Int64("dropped", h.dropped.Load()).
		Msg("event hub stopped")
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID()] = sub
			h.mu.Unlock()
			log.Debug().Str("subscriber_id", sub.ID()).Msg("subscriber registered")

			if h.snapshot != nil {
				if err := sub.Send(h.snapshot()); err != nil {
					h.remove(sub.ID())
				}
			}

		case id := <-h.unregister:
			h.remove(id)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) fanOut(event events.Event) {
	h.mu.RLock()
	var failed []string
	for id, sub := range h.subscribers {
		if err := sub.Send(event); err != nil {
			log.Warn().
				Str("subscriber_id", id).
				Err(err).
				Msg("failed to send event to subscriber")
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range failed {
		h.remove(id)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if ok {
		_ = sub.Close()
		log.Debug().Str("subscriber_id", id).Msg("subscriber unregistered")
	}
}

// Publish queues an event for every subscriber. Events are dropped when
// the queue is full.
func (h *Hub) Publish(event events.Event) {
	select {
	case h.broadcast <- event:
		h.published.Add(1)
		log.Trace().
			Str("event_type", string(event.Type())).
			Msg("event published")
	default:
		h.dropped.Add(1)
		log.Warn().
			Str("event_type", string(event.Type())).
			Msg("event dropped: broadcast channel full")
	}
}

// Subscribe registers sub. It returns once the hub loop has accepted it.
func (h *Hub) Subscribe(sub ports.Subscriber) {
	select {
	case h.register <- sub:
	case <-h.done:
	}
}

// Unsubscribe removes a subscriber by ID.
func (h *Hub) Unsubscribe(id string) {
	select {
	case h.unregister <- id:
	case <-h.done:
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// IsRunning returns true if the hub is running.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Dropped returns the number of events dropped because the queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var _ ports.EventHub = (*Hub)(nil)
