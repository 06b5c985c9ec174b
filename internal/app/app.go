// Package app orchestrates all components of filesensor.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/brianly1003/filesensor/internal/adapters/mqtt"
	"github.com/brianly1003/filesensor/internal/adapters/store"
	"github.com/brianly1003/filesensor/internal/adapters/watcher"
	"github.com/brianly1003/filesensor/internal/clock"
	"github.com/brianly1003/filesensor/internal/config"
	"github.com/brianly1003/filesensor/internal/domain/events"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/hub"
	"github.com/brianly1003/filesensor/internal/metrics"
	"github.com/brianly1003/filesensor/internal/monitor"
	httpserver "github.com/brianly1003/filesensor/internal/server/http"
	"github.com/brianly1003/filesensor/internal/server/websocket"
	"github.com/brianly1003/filesensor/internal/sync"
)

// ErrStopped is returned by Reload once the app loop has exited.
var ErrStopped = errors.New("application is not running")

type eventKind int

const (
	eventConnected eventKind = iota
	eventConnectionLost
	eventConfigChanged
	eventReload
)

func (k eventKind) String() string {
	switch k {
	case eventConnected:
		return "mqtt_connected"
	case eventConnectionLost:
		return "mqtt_connection_lost"
	case eventConfigChanged:
		return "config_changed"
	case eventReload:
		return "reload"
	default:
		return "unknown"
	}
}

// appEvent is a lifecycle signal handled on the app loop. Handling them
// one at a time keeps Rebuild, StopAll and Clear from interleaving.
type appEvent struct {
	kind  eventKind
	cfg   *config.Config
	err   error
	reply chan error
}

// App is the main application struct that orchestrates all components.
type App struct {
	loader     *config.Loader
	version    string
	instanceID string
	clock      clock.Clock

	// Core components
	hub          *hub.Hub
	metrics      *metrics.Metrics
	promRegistry *prometheus.Registry
	watcher      *watcher.Watcher
	registry     *monitor.Registry
	mqtt         *mqtt.Client
	store        *store.Store
	wsHandler    *websocket.Handler
	httpServer   *httpserver.Server

	events chan appEvent
	done   chan struct{}

	mu        sync.RWMutex
	cfg       *config.Config
	startTime time.Time
	running   bool
}

// New loads configuration through loader and builds every component.
// Nothing runs until Run is called.
func New(loader *config.Loader, version string) (*App, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		loader:     loader,
		version:    version,
		instanceID: uuid.NewString(),
		clock:      clock.Real(),
		cfg:        cfg,
		events:     make(chan appEvent, 16),
		done:       make(chan struct{}),
	}

	a.metrics = metrics.New()
	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := a.metrics.Register(a.promRegistry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.hub = hub.New(a.snapshot)
	a.watcher = watcher.NewWatcher(time.Duration(cfg.Monitor.DebounceMS)*time.Millisecond, a.clock)

	// Replays reach the broker only; the hub and history store see real
	// transitions.
	notifiers := fanout{hubNotifier{hub: a.hub}}
	replays := fanout{}
	var discovery ports.DiscoveryPublisher

	if cfg.MQTT.Broker != "" {
		a.mqtt = mqtt.New(mqtt.Options{
			Broker:           cfg.MQTT.Broker,
			ClientID:         cfg.MQTT.ClientID,
			Username:         cfg.MQTT.Username,
			Password:         cfg.MQTT.Password,
			TopicPrefix:      cfg.MQTT.TopicPrefix,
			DiscoveryPrefix:  cfg.MQTT.DiscoveryPrefix,
			QoS:              byte(cfg.MQTT.QoS),
			Retain:           cfg.MQTT.Retain,
			DeviceName:       cfg.MQTT.DeviceName,
			Version:          version,
			OnConnect:        func() { a.post(appEvent{kind: eventConnected}) },
			OnConnectionLost: func(err error) { a.post(appEvent{kind: eventConnectionLost, err: err}) },
		})
		notifiers = append(notifiers, a.mqtt)
		replays = append(replays, a.mqtt)
		discovery = a.mqtt
	}

	if cfg.Store.Enabled {
		a.store, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		notifiers = append(notifiers, a.store)
	}

	a.registry = monitor.NewRegistry(a.watcher, notifiers, discovery, monitor.Options{
		Clock:        a.clock,
		Metrics:      a.metrics,
		MaxRetries:   cfg.Monitor.MaxRetries,
		RetryBase:    time.Duration(cfg.Monitor.RetryBaseMS) * time.Millisecond,
		MaxLineBytes: cfg.Monitor.MaxLineBytes,

		ReplayNotifier: replays,
	})

	a.wsHandler = websocket.NewHandler(a.hub, a)

	if cfg.Server.Enabled {
		opts := httpserver.Options{
			Host:      cfg.Server.Host,
			Port:      cfg.Server.Port,
			Version:   version,
			Monitors:  a.registry,
			Reloader:  a,
			Metrics:   promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}),
			WebSocket: a.wsHandler,
		}
		if a.store != nil {
			opts.History = a.store
		}
		a.httpServer = httpserver.New(opts)
	}

	return a, nil
}

// Run starts every component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("application is already running")
	}
	a.running = true
	a.startTime = time.Now()
	a.mu.Unlock()

	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("failed to start event hub: %w", err)
	}

	a.hub.Subscribe(hub.NewLogSubscriber("event-log", func(event events.Event) {
		log.Trace().
			Str("event_type", string(event.Type())).
			Time("timestamp", event.Timestamp()).
			Msg("event broadcast")
	}))

	if err := a.watcher.Start(ctx); err != nil {
		a.shutdown()
		return fmt.Errorf("failed to start file watcher: %w", err)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.shutdown()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	a.loader.Watch(func(cfg *config.Config, err error) {
		a.post(appEvent{kind: eventConfigChanged, cfg: cfg, err: err})
	})

	log.Info().
		Str("instance_id", a.instanceID).
		Str("version", a.version).
		Str("config", a.loader.ConfigFileUsed()).
		Bool("enabled", a.Config().Enabled).
		Int("files", len(a.Config().Files)).
		Msg("filesensor started")

	// Without a broker there is no connect event to wait for.
	if a.mqtt == nil {
		_ = a.apply(a.Config())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loop(gctx) })
	g.Go(func() error { return a.wsHandler.RunHeartbeat(gctx) })
	if a.mqtt != nil {
		g.Go(func() error {
			if err := a.mqtt.Connect(gctx); err != nil && gctx.Err() == nil {
				log.Warn().Err(err).Msg("initial mqtt connect failed, retrying in background")
			}
			return nil
		})
	}

	err := g.Wait()
	a.shutdown()
	return err
}

func (a *App) loop(ctx context.Context) error {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			a.handle(ev)
		}
	}
}

// post queues ev for the app loop. It gives up once the loop has exited.
func (a *App) post(ev appEvent) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

func (a *App) handle(ev appEvent) {
	log.Debug().Str("event", ev.kind.String()).Msg("handling app event")

	switch ev.kind {
	case eventConnected:
		log.Info().Msg("mqtt connected")
		if cfg := a.Config(); cfg.Enabled {
			_ = a.rebuild(cfg)
		}

	case eventConnectionLost:
		log.Warn().Err(ev.err).Msg("mqtt connection lost, stopping monitors")
		a.registry.StopAll()

	case eventConfigChanged:
		if ev.err != nil {
			log.Error().Err(ev.err).Msg("config reload rejected, keeping previous configuration")
			return
		}
		_ = a.apply(ev.cfg)

	case eventReload:
		cfg, err := a.loader.Load()
		if err == nil {
			err = a.apply(cfg)
		}
		ev.reply <- err
	}
}

// apply makes cfg current. Monitors are rebuilt when enabled and cleared
// when disabled.
func (a *App) apply(cfg *config.Config) error {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if prev != nil {
		warnRestartOnly(prev, cfg)
		if prev.Logging.Level != cfg.Logging.Level {
			if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
				zerolog.SetGlobalLevel(level)
				log.Info().Str("level", level.String()).Msg("log level changed")
			}
		}
	}

	if !cfg.Enabled {
		a.registry.Clear()
		a.hub.Publish(events.NewMonitorsRebuiltEvent(nil, 0))
		log.Info().Msg("monitoring disabled, all monitors cleared")
		return nil
	}

	if a.mqtt != nil && !a.mqtt.IsConnected() {
		log.Info().Msg("mqtt not connected, monitors will be built on connect")
		return nil
	}

	return a.rebuild(cfg)
}

func (a *App) rebuild(cfg *config.Config) error {
	defs := definitions(cfg.Files)
	err := a.registry.Rebuild(defs)

	keys := a.registry.Keys()
	rejected := len(defs) - len(keys)
	a.hub.Publish(events.NewMonitorsRebuiltEvent(keys, rejected))

	if err != nil {
		log.Warn().Err(err).Int("rejected", rejected).Msg("some files are not monitored")
	}
	log.Info().Int("monitors", len(keys)).Msg("monitors rebuilt")
	return err
}

// Reload re-reads the configuration file and applies it on the app loop.
func (a *App) Reload() error {
	reply := make(chan error, 1)
	select {
	case a.events <- appEvent{kind: eventReload, reply: reply}:
	case <-a.done:
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-a.done:
		return ErrStopped
	}
}

// shutdown performs graceful shutdown of all components.
func (a *App) shutdown() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	log.Info().Msg("shutting down...")

	a.registry.StopAll()

	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpServer.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("error stopping HTTP server")
		}
		cancel()
	}
	a.wsHandler.CloseAll()

	if err := a.watcher.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping file watcher")
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing history store")
		}
	}

	if err := a.hub.Stop(); err != nil {
		log.Error().Err(err).Msg("error stopping event hub")
	}
}

// snapshot builds the sensor_snapshot sent to new hub subscribers.
func (a *App) snapshot() events.Event {
	statuses := a.registry.Snapshot()
	states := make([]events.SensorStatePayload, 0, len(statuses))
	for _, s := range statuses {
		if s.State.Known() {
			states = append(states, events.SensorStatePayload{Key: s.Key, State: s.State})
		}
	}
	return events.NewSensorSnapshotEvent(states)
}

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// InstanceID returns the id generated for this process.
func (a *App) InstanceID() string {
	return a.instanceID
}

// Registry returns the monitor registry.
func (a *App) Registry() *monitor.Registry {
	return a.registry
}

// Hub returns the event hub.
func (a *App) Hub() *hub.Hub {
	return a.hub
}

// UptimeSeconds returns how long the app has been running.
func (a *App) UptimeSeconds() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.startTime.IsZero() {
		return 0
	}
	return int64(time.Since(a.startTime).Seconds())
}

// MonitorCount returns the number of live monitors.
func (a *App) MonitorCount() int {
	return a.registry.Len()
}

func definitions(files []config.FileConfig) []monitor.Definition {
	defs := make([]monitor.Definition, 0, len(files))
	for _, f := range files {
		defs = append(defs, monitor.Definition{
			Key:         f.Key,
			Path:        f.Path,
			OnPattern:   f.OnRegex,
			OffPattern:  f.OffRegex,
			DeviceClass: f.DeviceClass,
			Icon:        f.Icon,
		})
	}
	return defs
}

// warnRestartOnly logs sections that are read once at startup.
func warnRestartOnly(prev, next *config.Config) {
	sections := map[string]bool{
		"monitor": prev.Monitor != next.Monitor,
		"mqtt":    prev.MQTT != next.MQTT,
		"server":  prev.Server != next.Server,
		"store":   prev.Store != next.Store,
	}
	for name, changed := range sections {
		if changed {
			log.Warn().Str("section", name).Msg("config section changed, restart to apply")
		}
	}
}

var (
	_ websocket.StatusProvider = (*App)(nil)
	_ httpserver.Reloader      = (*App)(nil)
)
