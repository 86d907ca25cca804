package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cavity/loveline/internal/pubsub"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 65536
)

// Client represents a connected WebSocket client. A client starts out
// unidentified; it claims one of the two identities with a user.online
// event and stays bound to it until the connection closes.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	handle   string // per-connection ID, distinguishes this socket from any other
	identity string // claimed username, empty until user.online
	userSub  pubsub.Subscription
	closed   bool // send channel closed, refuse further sends
	mu       sync.RWMutex
	logger   *slog.Logger
}

var errClientClosed = errors.New("client connection closed")

// NewClient creates a new client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		handle: uuid.NewString(),
		logger: logger,
	}
}

// HandleID returns the per-connection ID. The presence registry compares
// handles to tell a stale disconnect from a live reconnection.
func (c *Client) HandleID() string {
	return c.handle
}

// SetIdentity binds the connection to a claimed identity
func (c *Client) SetIdentity(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Identity returns the claimed identity, or "" if unidentified
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// IsIdentified returns true once the client has claimed an identity
func (c *Client) IsIdentified() bool {
	return c.Identity() != ""
}

func (c *Client) hasUserSub() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userSub != nil
}

func (c *Client) setUserSub(sub pubsub.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userSub = sub
}

func (c *Client) takeUserSub() pubsub.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.userSub
	c.userSub = nil
	return sub
}

// ReadPump pumps messages from the WebSocket connection to the hub
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error", "error", err, "identity", c.Identity())
				}
				return
			}

			var msg Message
			if err := json.Unmarshal(message, &msg); err != nil {
				c.sendError("invalid_message", "Failed to parse message")
				continue
			}

			c.hub.HandleMessage(c, &msg)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued messages to the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Send sends a message to the client. Returns errClientClosed once the
// connection has been unregistered; pubsub handlers and broadcasts may
// still hold a reference to a client that is already gone.
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue places raw bytes on the send channel without blocking. The read
// lock pairs with closeSend's write lock, so a send can never hit a closed
// channel.
func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, drop message
		c.logger.Warn("client send buffer full, dropping message", "identity", c.identity)
	}
	return nil
}

// closeSend closes the send channel exactly once and marks the client so
// late deliveries are refused instead of panicking.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// sendError sends an error message to the client
func (c *Client) sendError(code, message string) {
	msg, _ := NewMessage(EventTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	_ = c.Send(msg)
}
