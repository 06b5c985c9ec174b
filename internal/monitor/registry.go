package monitor

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/sync"
)

// Registry owns the set of active monitors and rebuilds it from
// configuration.
type Registry struct {
	subscriber ports.FileSubscriber
	notifier   ports.ChangeNotifier
	discovery  ports.DiscoveryPublisher
	opts       Options

	// rebuildMu serializes Rebuild, StopAll and Clear.
	rebuildMu sync.Mutex

	mu       sync.RWMutex
	monitors []*Monitor
	byKey    map[string]*Monitor
}

// NewRegistry creates an empty registry. discovery may be nil.
func NewRegistry(subscriber ports.FileSubscriber, notifier ports.ChangeNotifier, discovery ports.DiscoveryPublisher, opts Options) *Registry {
	return &Registry{
		subscriber: subscriber,
		notifier:   notifier,
		discovery:  discovery,
		opts:       opts.withDefaults(),
		byKey:      make(map[string]*Monitor),
	}
}

// Rebuild replays cached states, stops every existing monitor and builds
// one monitor per definition. A new monitor for the same key, path and
// patterns as an old one starts from the old cached state. A definition that fails validation, repeats
// an earlier key or cannot be subscribed is skipped; the others are still
// built. The returned error joins every rejected definition.
func (r *Registry) Rebuild(defs []Definition) error {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	r.ReplayCachedStates()

	r.mu.Lock()
	old := r.monitors
	r.monitors = nil
	r.byKey = make(map[string]*Monitor)
	r.mu.Unlock()

	stopMonitors(old)

	previous := make(map[string]*Monitor, len(old))
	for _, m := range old {
		previous[m.Key()] = m
	}

	built := make([]*Monitor, 0, len(defs))
	byKey := make(map[string]*Monitor, len(defs))
	var errs []error

	for i, def := range defs {
		spec, err := NewSpec(def)
		if err != nil {
			errs = append(errs, fmt.Errorf("files[%d]: %w", i, err))
			continue
		}
		if _, exists := byKey[spec.Key]; exists {
			errs = append(errs, fmt.Errorf("files[%d]: %w", i,
				domain.NewMonitorError(spec.Key, "register", domain.ErrDuplicateKey)))
			continue
		}

		initial := domain.StateUnknown
		if p, ok := previous[spec.Key]; ok && p.spec.sameSource(spec) {
			initial = p.State()
		}

		m, err := newMonitor(spec, r.subscriber, r.notifier, r.opts, initial)
		if err != nil {
			errs = append(errs, fmt.Errorf("files[%d]: %w", i, err))
			continue
		}

		built = append(built, m)
		byKey[spec.Key] = m

		if r.discovery != nil {
			r.discovery.PublishDiscovery(spec.Sensor())
		}
	}

	for _, err := range errs {
		log.Error().Err(err).Msg("file definition rejected")
	}

	r.mu.Lock()
	r.monitors = built
	r.byKey = byKey
	r.mu.Unlock()

	r.opts.Metrics.SetMonitors(len(built))
	r.opts.Metrics.ObserveRejected(len(errs))

	log.Info().
		Int("monitors", len(built)).
		Int("rejected", len(errs)).
		Msg("monitors rebuilt")

	return errors.Join(errs...)
}

// StopAll stops every monitor. Stopped monitors stay in the registry so
// their cached states can still be replayed.
func (r *Registry) StopAll() {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	stopMonitors(r.list())
	log.Info().Msg("all monitors stopped")
}

// Clear stops and discards every monitor without replaying.
func (r *Registry) Clear() {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	r.mu.Lock()
	old := r.monitors
	r.monitors = nil
	r.byKey = make(map[string]*Monitor)
	r.mu.Unlock()

	stopMonitors(old)
	r.opts.Metrics.SetMonitors(0)
}

// ReplayCachedStates re-sends the cached state of every monitor whose
// state is known. Replays go to Options.ReplayNotifier when set.
func (r *Registry) ReplayCachedStates() int {
	notifier := r.notifier
	if r.opts.ReplayNotifier != nil {
		notifier = r.opts.ReplayNotifier
	}

	replayed := 0
	for _, m := range r.list() {
		state := m.State()
		if !state.Known() {
			continue
		}
		notifier.OnStateChanged(m.Key(), state)
		replayed++
	}
	if replayed > 0 {
		log.Debug().Int("count", replayed).Msg("replayed cached states")
	}
	return replayed
}

// Get returns the monitor for key.
func (r *Registry) Get(key string) (*Monitor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byKey[key]
	return m, ok
}

// Keys returns the registered keys in configuration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.monitors))
	for i, m := range r.monitors {
		keys[i] = m.Key()
	}
	return keys
}

// Len returns the number of registered monitors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.monitors)
}

// Snapshot returns the status of every monitor sorted by key.
func (r *Registry) Snapshot() []Status {
	monitors := r.list()
	out := make([]Status, 0, len(monitors))
	for _, m := range monitors {
		out = append(out, m.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (r *Registry) list() []*Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Monitor, len(r.monitors))
	copy(out, r.monitors)
	return out
}

func stopMonitors(monitors []*Monitor) {
	for _, m := range monitors {
		if err := m.Stop(); err != nil {
			log.Warn().Err(err).Str("key", m.Key()).Msg("failed to stop monitor")
		}
	}
}
