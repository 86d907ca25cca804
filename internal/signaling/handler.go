package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades connections into the permanent room
type Handler struct {
	hub    *Hub
	cfg    *Config
	logger *slog.Logger
}

// NewHandler creates a signaling handler
func NewHandler(hub *Hub, cfg *Config, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    hub,
		cfg:    cfg,
		logger: logger,
	}
}

// ServeHTTP upgrades HTTP to WebSocket and joins the room
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("signaling upgrade failed", "error", err)
		return
	}

	peer := NewPeer(h.hub, conn, h.logger)
	h.hub.Register(peer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go peer.WritePump(ctx)
	peer.ReadPump(ctx)
}

// ConfigHandler returns the room name and ICE servers clients should use
func (h *Handler) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"room":        h.hub.Room(),
		"ice_servers": h.cfg.GetICEServers(),
	})
}

// HealthHandler reports how many peers are connected
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"room":   h.hub.Room(),
		"peers":  h.hub.PeerCount(),
	})
}
