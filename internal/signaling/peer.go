package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 65536
)

// Peer is one connection in the room. Peers have no account identity,
// only a random per-connection ID.
type Peer struct {
	ID   string
	Send chan *Message

	hub    *Hub
	conn   *websocket.Conn
	logger *slog.Logger
}

// NewPeer creates a peer for a freshly upgraded connection
func NewPeer(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Peer {
	return &Peer{
		ID:     uuid.NewString(),
		Send:   make(chan *Message, 64),
		hub:    hub,
		conn:   conn,
		logger: logger,
	}
}

// trySend queues a message without blocking the hub loop
func (p *Peer) trySend(msg *Message) {
	select {
	case p.Send <- msg:
	default:
		p.logger.Warn("peer send buffer full, dropping signal", "peer_id", p.ID, "type", msg.Type)
	}
}

// ReadPump forwards inbound signals to the hub
func (p *Peer) ReadPump(ctx context.Context) {
	defer func() {
		p.hub.Unregister(p)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := p.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					p.logger.Warn("signaling read error", "error", err, "peer_id", p.ID)
				}
				return
			}

			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				p.trySend(&Message{
					Type:    TypeError,
					Payload: []byte(`{"error":"malformed signal"}`),
				})
				continue
			}

			msg.peer = p
			p.hub.relay <- &msg
		}
	}
}

// WritePump writes queued messages to the connection
func (p *Peer) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.Send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
