// Package http implements the filesensor HTTP API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/adapters/store"
	"github.com/brianly1003/filesensor/internal/domain"
	"github.com/brianly1003/filesensor/internal/monitor"
	"github.com/brianly1003/filesensor/internal/server/http/middleware"
)

// MaxHistoryLimit caps the limit query parameter of /api/history.
const MaxHistoryLimit = 1000

// Monitors is the read side of the monitor registry.
type Monitors interface {
	Snapshot() []monitor.Status
	Get(key string) (*monitor.Monitor, bool)
	ReplayCachedStates() int
}

// Reloader re-reads configuration and rebuilds monitors.
type Reloader interface {
	Reload() error
}

// History returns recorded transitions, newest first.
type History interface {
	History(ctx context.Context, key string, limit int) ([]store.Transition, error)
}

// Options configures a Server. Only Monitors is required.
type Options struct {
	Host      string
	Port      int
	Version   string
	Monitors  Monitors
	Reloader  Reloader
	History   History
	Metrics   http.Handler
	WebSocket http.Handler
	Limiter   *middleware.RateLimiter
}

// Server is the HTTP API server.
type Server struct {
	opts       Options
	addr       string
	started    time.Time
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	if opts.Limiter == nil {
		opts.Limiter = middleware.NewRateLimiter()
	}

	s := &Server{
		opts:    opts,
		addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		started: time.Now(),
		router:  mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/monitors", s.handleListMonitors).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")

	// Registered before /monitors/{key} so "replay" is not read as a key.
	limit := middleware.RateLimit(opts.Limiter)
	api.Handle("/monitors/replay", limit(http.HandlerFunc(s.handleReplay))).Methods("POST")
	api.Handle("/reload", limit(http.HandlerFunc(s.handleReload))).Methods("POST")

	api.HandleFunc("/monitors/{key}", s.handleGetMonitor).Methods("GET")

	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics).Methods("GET")
	}
	if opts.WebSocket != nil {
		s.router.Handle("/ws", opts.WebSocket)
	}

	return s
}

// Handler returns the router wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// /ws connections outlive any write timeout; the websocket client
		// sets its own deadlines.
		IdleTimeout: 120 * time.Second,
	}

	log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info().Msg("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        s.opts.Version,
		"monitors":       len(s.opts.Monitors.Snapshot()),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"time":           time.Now().Unix(),
	})
}

// handleListMonitors handles GET /api/monitors
func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitors": s.opts.Monitors.Snapshot(),
	})
}

// handleGetMonitor handles GET /api/monitors/{key}
func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	m, ok := s.opts.Monitors.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", domain.ErrMonitorNotFound, key))
		return
	}
	writeJSON(w, http.StatusOK, m.Status())
}

// handleReplay handles POST /api/monitors/replay
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	n := s.opts.Monitors.ReplayCachedStates()
	log.Info().Int("replayed", n).Msg("replayed cached states on request")
	writeJSON(w, http.StatusOK, map[string]int{"replayed": n})
}

// handleReload handles POST /api/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reloader == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("reload is not available"))
		return
	}
	if err := s.opts.Reloader.Reload(); err != nil {
		log.Warn().Err(err).Msg("reload request failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    err.Error(),
			"monitors": len(s.opts.Monitors.Snapshot()),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "reloaded",
		"monitors": len(s.opts.Monitors.Snapshot()),
	})
}

// handleHistory handles GET /api/history?key=&limit=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("history store is disabled"))
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("key"))
	limit := parseIntParam(r, "limit", store.DefaultHistoryLimit)
	if limit <= 0 || limit > MaxHistoryLimit {
		writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", MaxHistoryLimit))
		return
	}

	transitions, err := s.opts.History.History(r.Context(), key, limit)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":         key,
		"transitions": transitions,
	})
}

// corsMiddleware allows cross-origin requests from loopback origins only.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		if isLoopbackOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isLoopbackOrigin reports whether origin is an http(s) origin on
// localhost or a loopback address.
func isLoopbackOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	valStr := r.URL.Query().Get(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
