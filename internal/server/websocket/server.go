package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/brianly1003/filesensor/internal/domain/events"
	"github.com/brianly1003/filesensor/internal/domain/ports"
	"github.com/brianly1003/filesensor/internal/hub"
	"github.com/brianly1003/filesensor/internal/sync"
)

// DefaultHeartbeatInterval is how often a heartbeat event is published
// while clients are connected.
const DefaultHeartbeatInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to localhost by default; browsers on other origins
	// are allowed to read the stream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusProvider supplies heartbeat fields.
type StatusProvider interface {
	UptimeSeconds() int64
	MonitorCount() int
}

// Command is a message a client sends to change its key filter.
type Command struct {
	Command string `json:"command"`
	Key     string `json:"key"`
}

// Handler upgrades HTTP requests to event streams. Clients may pass
// ?keys=a,b to receive sensor_state events for those keys only.
type Handler struct {
	hub               ports.EventHub
	status            StatusProvider
	heartbeatInterval time.Duration

	mu      sync.RWMutex
	clients map[string]*hub.FilteredSubscriber

	heartbeatSeq atomic.Int64
}

// NewHandler creates a handler that subscribes clients to eventHub.
// status may be nil.
func NewHandler(eventHub ports.EventHub, status StatusProvider) *Handler {
	return &Handler{
		hub:               eventHub,
		status:            status,
		heartbeatInterval: DefaultHeartbeatInterval,
		clients:           make(map[string]*hub.FilteredSubscriber),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := NewClient(conn, h.handleCommand, h.removeClient)
	sub := hub.NewFilteredSubscriber(NewClientSubscriber(client), parseKeys(r.URL.Query().Get("keys"))...)

	h.mu.Lock()
	h.clients[client.ID()] = sub
	h.mu.Unlock()

	client.Start()
	h.hub.Subscribe(sub)

	log.Info().
		Str("client_id", client.ID()).
		Str("remote_addr", conn.RemoteAddr().String()).
		Strs("keys", sub.Keys()).
		Msg("client connected")
}

func (h *Handler) handleCommand(client *Client, message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		h.sendError(client, "invalid_command", "message is not valid JSON")
		return
	}

	h.mu.RLock()
	sub, ok := h.clients[client.ID()]
	h.mu.RUnlock()
	if !ok {
		return
	}

	switch cmd.Command {
	case "follow":
		sub.Follow(cmd.Key)
	case "unfollow":
		sub.Unfollow(cmd.Key)
	default:
		h.sendError(client, "unknown_command", "unknown command: "+cmd.Command)
		return
	}

	log.Debug().
		Str("client_id", client.ID()).
		Str("command", cmd.Command).
		Str("key", cmd.Key).
		Msg("client command")
}

func (h *Handler) sendError(client *Client, code, message string) {
	data, err := events.NewErrorEvent(code, message).ToJSON()
	if err != nil {
		return
	}
	client.Send(data)
}

func (h *Handler) removeClient(id string) {
	h.hub.Unsubscribe(id)

	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()

	log.Info().Str("client_id", id).Msg("client disconnected")
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Handler) CloseAll() {
	h.mu.RLock()
	subs := make([]*hub.FilteredSubscriber, 0, len(h.clients))
	for _, sub := range h.clients {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}

// RunHeartbeat publishes heartbeat events until ctx is done.
func (h *Handler) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	log.Debug().Dur("interval", h.heartbeatInterval).Msg("heartbeat loop started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("heartbeat loop stopped")
			return nil
		case <-ticker.C:
			h.publishHeartbeat()
		}
	}
}

func (h *Handler) publishHeartbeat() {
	if h.ClientCount() == 0 {
		return
	}

	var uptime int64
	var monitors int
	if h.status != nil {
		uptime = h.status.UptimeSeconds()
		monitors = h.status.MonitorCount()
	}

	seq := h.heartbeatSeq.Add(1)
	h.hub.Publish(events.NewHeartbeatEvent(seq, uptime, monitors))
	log.Trace().Int64("seq", seq).Msg("heartbeat published")
}

func parseKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
