package monitor

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/classifier"
	"github.com/brianly1003/filesensor/internal/clock"
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/metrics"
	"github.com/brianly1003/filesensor/internal/sync"
)

// Default retry policy: three retries after 1s, 2s and 3s.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = time.Second
)

// Phase is the monitor's position in its read/retry state machine.
type Phase int

const (
	PhaseUnsubscribed Phase = iota
	PhaseActive
	PhaseRetrying
	// PhaseAbandoned applies to the last change event only. The next
	// notification moves the monitor back to PhaseActive.
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseRetrying:
		return "retrying"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unsubscribed"
	}
}

// Options tunes monitor behavior. Zero values fall back to defaults.
type Options struct {
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	MaxRetries   int
	RetryBase    time.Duration
	MaxLineBytes int

	// ReplayNotifier receives Registry.ReplayCachedStates calls. Nil sends
	// replays to the change notifier.
	ReplayNotifier ports.ChangeNotifier
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = DefaultMaxLineBytes
	}
	return o
}

// Status is a point-in-time view of a monitor.
type Status struct {
	Key        string       `json:"key"`
	Path       string       `json:"path"`
	State      domain.State `json:"state"`
	Phase      string       `json:"phase"`
	RetryCount int          `json:"retry_count"`
}

// Monitor tracks one watched file. Every read, classification and
// notification for the file happens under mu, so a pending retry never
// overlaps a fresh change notification.
//
// The retry counter belongs to the monitor. It resets on success and on
// abandonment, so each new change event gets the full retry budget.
type Monitor struct {
	spec     Spec
	notifier ports.ChangeNotifier
	opts     Options

	// readLine is swapped in tests to count or fail attempts.
	readLine func(path string, maxLineBytes int) (string, error)

	mu         sync.Mutex
	sub        ports.Subscription
	state      domain.State
	phase      Phase
	retryCount int
	retryTimer *clock.Timer
	retryGen   uint64
	stopped    bool
}

// New subscribes to spec's file and returns an active monitor.
func New(spec Spec, subscriber ports.FileSubscriber, notifier ports.ChangeNotifier, opts Options) (*Monitor, error) {
	return newMonitor(spec, subscriber, notifier, opts, domain.StateUnknown)
}

// newMonitor is New with a cached state carried over from a previous
// monitor for the same file.
func newMonitor(spec Spec, subscriber ports.FileSubscriber, notifier ports.ChangeNotifier, opts Options, state domain.State) (*Monitor, error) {
	m := &Monitor{
		spec:     spec,
		notifier: notifier,
		opts:     opts.withDefaults(),
		readLine: ReadLastLine,
		state:    state,
		phase:    PhaseUnsubscribed,
	}

	sub, err := subscriber.Subscribe(spec.Dir, spec.Name, m.handleChange)
	if err != nil {
		return nil, domain.NewMonitorError(spec.Key, "subscribe", err)
	}

	m.mu.Lock()
	m.sub = sub
	if m.phase == PhaseUnsubscribed {
		m.phase = PhaseActive
	}
	m.mu.Unlock()

	log.Debug().
		Str("key", spec.Key).
		Str("path", spec.Path).
		Msg("monitor subscribed")

	return m, nil
}

// Key returns the monitor's key.
func (m *Monitor) Key() string {
	return m.spec.Key
}

// Spec returns the Spec the monitor was built from.
func (m *Monitor) Spec() Spec {
	return m.spec
}

// State returns the cached state, StateUnknown until the first successful
// classification.
func (m *Monitor) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a snapshot of the monitor.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Key:        m.spec.Key,
		Path:       m.spec.Path,
		State:      m.state,
		Phase:      m.phase.String(),
		RetryCount: m.retryCount,
	}
}

// Stop releases the subscription and cancels any pending retry. The cached
// state is kept. Stop is idempotent.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.phase = PhaseUnsubscribed
	m.cancelRetryLocked()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()

	// Closed outside mu: the subscription may be delivering a change that
	// is waiting on mu.
	if sub != nil {
		if err := sub.Close(); err != nil {
			return domain.NewMonitorError(m.spec.Key, "unsubscribe", err)
		}
	}

	log.Debug().Str("key", m.spec.Key).Msg("monitor stopped")
	return nil
}

// handleChange runs for every (debounced) change notification. A pending
// retry is superseded by the fresh attempt; the retry counter carries over.
func (m *Monitor) handleChange() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	m.cancelRetryLocked()
	m.attemptLocked()
}

// retry runs a deferred attempt scheduled by failLocked.
func (m *Monitor) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || gen != m.retryGen {
		return
	}
	m.retryTimer = nil
	m.attemptLocked()
}

func (m *Monitor) attemptLocked() {
	result, err := m.evaluate()
	if err != nil {
		m.failLocked(err)
		return
	}

	m.retryCount = 0
	m.phase = PhaseActive

	state := result.State()
	if !state.Known() {
		log.Debug().Str("key", m.spec.Key).Msg("last line matched neither pattern")
		return
	}
	if state == m.state {
		return
	}

	m.state = state
	m.opts.Metrics.ObserveStateChange(m.spec.Key, state)

	log.Info().
		Str("key", m.spec.Key).
		Str("state", state.String()).
		Msg("sensor state changed")

	m.notifier.OnStateChanged(m.spec.Key, state)
}

func (m *Monitor) evaluate() (classifier.Result, error) {
	line, err := m.readLine(m.spec.Path, m.opts.MaxLineBytes)
	if err != nil {
		return classifier.None, err
	}
	return classifier.Classify(line, m.spec.On, m.spec.Off)
}

func (m *Monitor) failLocked(err error) {
	m.retryCount++
	m.opts.Metrics.ObserveFailure(m.spec.Key)

	if m.retryCount > m.opts.MaxRetries {
		log.Error().
			Err(err).
			Str("key", m.spec.Key).
			Str("path", m.spec.Path).
			Int("attempts", m.retryCount).
			Msg("could not read file, will not try again")

		m.retryCount = 0
		m.phase = PhaseAbandoned
		m.opts.Metrics.ObserveAbandon(m.spec.Key)
		return
	}

	delay := time.Duration(m.retryCount) * m.opts.RetryBase
	log.Warn().
		Err(err).
		Str("key", m.spec.Key).
		Str("path", m.spec.Path).
		Dur("retry_in", delay).
		Msg("could not read file, trying again")

	m.phase = PhaseRetrying
	m.retryGen++
	gen := m.retryGen
	m.retryTimer = m.opts.Clock.AfterFunc(delay, func() { m.retry(gen) })
	m.opts.Metrics.ObserveRetry(m.spec.Key)
}

func (m *Monitor) cancelRetryLocked() {
	m.retryGen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}
