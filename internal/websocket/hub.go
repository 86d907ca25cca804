package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/domain"
	"github.com/cavity/loveline/internal/presence"
	"github.com/cavity/loveline/internal/pubsub"
)

// MessageStore persists chat messages
type MessageStore interface {
	Create(ctx context.Context, msg *domain.Message) error
	MarkRead(ctx context.Context, id uuid.UUID, receiver string) error
}

// LetterStore persists letters
type LetterStore interface {
	Create(ctx context.Context, letter *domain.Letter) error
}

// KeepsakeStore persists feed items
type KeepsakeStore interface {
	Create(ctx context.Context, k *domain.Keepsake) error
}

// UserStore records user activity
type UserStore interface {
	TouchLastSeen(ctx context.Context, username string) error
}

// TokenValidator checks access tokens
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Hub maintains the set of active connections and routes events between
// the two halves of the pair. Delivery rules: presence goes to everyone,
// targeted content goes to the receiver only if online (dropped silently
// otherwise, the database copy is authoritative), feed items go to
// everyone except their author, and a sender always hears back either a
// confirmation or a failure.
type Hub struct {
	conns map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	registry  *presence.Registry
	pair      []string
	tokens    TokenValidator
	messages  MessageStore
	letters   LetterStore
	keepsakes KeepsakeStore
	users     UserStore
	ps        pubsub.PubSub
	logger    *slog.Logger
}

// NewHub creates a new Hub. pair must hold exactly the two invited
// identities.
func NewHub(registry *presence.Registry, pair []string, tokens TokenValidator, messages MessageStore, letters LetterStore, keepsakes KeepsakeStore, users UserStore, ps pubsub.PubSub, logger *slog.Logger) *Hub {
	return &Hub{
		conns:      make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		pair:       pair,
		tokens:     tokens,
		messages:   messages,
		letters:    letters,
		keepsakes:  keepsakes,
		users:      users,
		ps:         ps,
		logger:     logger,
	}
}

// Run starts the hub's main loop and its feed subscription
func (h *Hub) Run(ctx context.Context) {
	if h.ps != nil {
		_, err := h.ps.Subscribe(ctx, pubsub.Topics.Feed(), h.onFeedEvent)
		if err != nil {
			h.logger.Error("subscribe to feed topic failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	h.conns[client] = true
	h.mu.Unlock()

	h.logger.Debug("client connected", "handle", client.HandleID())
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.conns[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, client)
	h.mu.Unlock()

	if sub := client.takeUserSub(); sub != nil {
		_ = sub.Unsubscribe()
	}

	identity := client.Identity()
	if identity != "" {
		// Only evict presence if this connection is still the one holding
		// the identity. A reconnect may have claimed it already.
		if h.registry.SetOffline(identity, client) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.users.TouchLastSeen(ctx, identity); err != nil {
				h.logger.Warn("touch last_seen failed", "identity", identity, "error", err)
			}
			cancel()
		}
	}

	client.closeSend()

	// Everyone gets a fresh snapshot regardless of whether the set changed
	h.broadcastPresence()

	h.logger.Debug("client disconnected", "handle", client.HandleID(), "identity", identity)
}

// HandleMessage processes incoming WebSocket messages
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case EventTypeUserOnline:
		h.handleUserOnline(client, msg.Payload)
	case EventTypeMessageSend:
		h.handleMessageSend(client, msg.Payload)
	case EventTypeLetterSend:
		h.handleLetterSend(client, msg.Payload)
	case EventTypeTypingStart:
		h.handleTyping(client, true)
	case EventTypeTypingStop:
		h.handleTyping(client, false)
	case EventTypeReceiptRead:
		h.handleReceiptRead(client, msg.Payload)
	case EventTypeFeedPosted:
		h.handleFeedPosted(client, msg.Payload)
	default:
		client.sendError("unknown_event", "Unknown event type: "+msg.Type)
	}
}

func (h *Hub) handleUserOnline(client *Client, payload json.RawMessage) {
	var p UserOnlinePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid user.online payload")
		return
	}

	claims, err := h.tokens.ValidateToken(p.Token)
	if err != nil {
		client.sendError("auth_failed", "Invalid or expired token")
		return
	}

	identity := claims.Username
	if h.partnerOf(identity) == "" {
		client.sendError("not_invited", "Unknown identity")
		return
	}

	if cur := client.Identity(); cur != "" && cur != identity {
		client.sendError("already_identified", "Connection already bound to "+cur)
		return
	}

	client.SetIdentity(identity)

	// Last writer wins: a fresh tab or reconnect simply takes over the
	// identity, the old socket becomes a bystander.
	h.registry.SetOnline(identity, client)

	if h.ps != nil && !client.hasUserSub() {
		sub, err := h.ps.Subscribe(context.Background(), pubsub.Topics.User(identity), func(ctx context.Context, m *pubsub.Message) {
			fwd := &Message{Type: m.Type, Payload: m.Payload, Timestamp: time.Now()}
			data, err := json.Marshal(fwd)
			if err != nil {
				return
			}
			// The handler runs on a pubsub goroutine and may fire after the
			// connection is unregistered; enqueue refuses late deliveries.
			_ = client.enqueue(data)
		})
		if err != nil {
			h.logger.Error("user topic subscribe failed", "identity", identity, "error", err)
		} else {
			client.setUserSub(sub)
		}
	}

	h.broadcastPresence()

	h.logger.Info("identity online", "identity", identity, "handle", client.HandleID())
}

func (h *Hub) handleMessageSend(client *Client, payload json.RawMessage) {
	if !client.IsIdentified() {
		client.sendError("not_identified", "Send user.online first")
		return
	}

	var p MessageSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid message payload")
		return
	}

	if p.Body == "" {
		client.sendError("empty_message", "Message cannot be empty")
		return
	}
	if len(p.Body) > 10000 {
		client.sendError("message_too_long", "Message exceeds 10000 characters")
		return
	}

	sender := client.Identity()
	receiver := h.partnerOf(sender)

	msg := &domain.Message{
		ID:        uuid.New(),
		Sender:    sender,
		Receiver:  receiver,
		Body:      p.Body,
		CreatedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.messages.Create(ctx, msg); err != nil {
		h.logger.Error("failed to save message", "error", err)
		failed, _ := NewMessage(EventTypeMessageFailed, MessageFailedPayload{
			TempID: p.TempID,
			Reason: "Failed to save message",
		})
		_ = client.Send(failed)
		return
	}

	delivered := h.deliverTo(receiver, EventTypeMessageNew, MessageNewPayload{
		ID:        msg.ID,
		Sender:    sender,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})

	sent, _ := NewMessage(EventTypeMessageSent, MessageSentPayload{
		ID:        msg.ID,
		TempID:    p.TempID,
		Delivered: delivered,
		CreatedAt: msg.CreatedAt,
	})
	_ = client.Send(sent)
}

func (h *Hub) handleLetterSend(client *Client, payload json.RawMessage) {
	if !client.IsIdentified() {
		client.sendError("not_identified", "Send user.online first")
		return
	}

	var p LetterSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid letter payload")
		return
	}

	if p.Body == "" {
		client.sendError("empty_letter", "Letter cannot be empty")
		return
	}

	sender := client.Identity()
	receiver := h.partnerOf(sender)

	letter := &domain.Letter{
		ID:        uuid.New(),
		Sender:    sender,
		Receiver:  receiver,
		Title:     p.Title,
		Body:      p.Body,
		CreatedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.letters.Create(ctx, letter); err != nil {
		h.logger.Error("failed to save letter", "error", err)
		client.sendError("save_failed", "Failed to save letter")
		return
	}

	h.deliverTo(receiver, EventTypeLetterNew, LetterNewPayload{
		ID:        letter.ID,
		Sender:    sender,
		Title:     letter.Title,
		Body:      letter.Body,
		CreatedAt: letter.CreatedAt,
	})

	sent, _ := NewMessage(EventTypeLetterSent, LetterSentPayload{
		ID:        letter.ID,
		CreatedAt: letter.CreatedAt,
	})
	_ = client.Send(sent)
}

func (h *Hub) handleTyping(client *Client, isTyping bool) {
	if !client.IsIdentified() {
		return
	}

	identity := client.Identity()
	h.deliverTo(h.partnerOf(identity), EventTypeTyping, TypingBroadcastPayload{
		Identity: identity,
		IsTyping: isTyping,
	})
}

func (h *Hub) handleReceiptRead(client *Client, payload json.RawMessage) {
	if !client.IsIdentified() {
		return
	}

	var p ReceiptReadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid receipt payload")
		return
	}

	messageID, err := uuid.Parse(p.MessageID)
	if err != nil {
		client.sendError("invalid_message_id", "Invalid message ID")
		return
	}

	reader := client.Identity()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.messages.MarkRead(ctx, messageID, reader); err != nil {
		client.sendError("receipt_failed", "Could not mark message read")
		return
	}

	h.deliverTo(h.partnerOf(reader), EventTypeReceiptUpdate, ReceiptUpdatePayload{
		MessageID: messageID,
		Reader:    reader,
		ReadAt:    time.Now(),
	})
}

func (h *Hub) handleFeedPosted(client *Client, payload json.RawMessage) {
	if !client.IsIdentified() {
		client.sendError("not_identified", "Send user.online first")
		return
	}

	var p FeedPostedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid feed payload")
		return
	}

	kind := domain.KeepsakeKind(p.Kind)
	if !domain.ValidKeepsakeKind(kind) {
		client.sendError("invalid_kind", "Unknown keepsake kind: "+p.Kind)
		return
	}
	if p.Body == "" && p.MediaKey == "" {
		client.sendError("empty_keepsake", "Keepsake needs a body or media")
		return
	}

	author := client.Identity()

	k := &domain.Keepsake{
		ID:        uuid.New(),
		Kind:      kind,
		Author:    author,
		Title:     p.Title,
		Body:      p.Body,
		MediaKey:  p.MediaKey,
		CreatedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.keepsakes.Create(ctx, k); err != nil {
		h.logger.Error("failed to save keepsake", "error", err)
		client.sendError("save_failed", "Failed to save keepsake")
		return
	}

	h.PublishFeedItem(ctx, k)

	saved, _ := NewMessage(EventTypeFeedSaved, FeedSavedPayload{
		ID:        k.ID,
		CreatedAt: k.CreatedAt,
	})
	_ = client.Send(saved)
}

// PublishFeedItem pushes a stored keepsake onto the feed topic. The hub's
// own subscription fans it out to live connections, so REST handlers and
// the websocket path share one delivery route.
func (h *Hub) PublishFeedItem(ctx context.Context, k *domain.Keepsake) {
	if h.ps == nil {
		return
	}

	payload, err := json.Marshal(FeedNewPayload{
		ID:        k.ID,
		Kind:      string(k.Kind),
		Author:    k.Author,
		Title:     k.Title,
		Body:      k.Body,
		MediaKey:  k.MediaKey,
		CreatedAt: k.CreatedAt,
	})
	if err != nil {
		return
	}

	err = h.ps.Publish(ctx, pubsub.Topics.Feed(), &pubsub.Message{
		Topic:   pubsub.Topics.Feed(),
		Type:    EventTypeFeedNew,
		Payload: payload,
	})
	if err != nil {
		h.logger.Error("publish feed item failed", "error", err)
	}
}

// onFeedEvent fans a feed item out to every identified connection except
// the author's.
func (h *Hub) onFeedEvent(ctx context.Context, m *pubsub.Message) {
	var p FeedNewPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		h.logger.Warn("malformed feed event", "error", err)
		return
	}

	msg, err := NewMessage(EventTypeFeedNew, p)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for client := range h.conns {
		if client.IsIdentified() && client.Identity() != p.Author {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		_ = client.Send(msg)
	}
}

// deliverTo sends an event to the connection currently holding identity.
// Returns false if the identity is offline; the event is dropped, the
// database copy is what the receiver catches up from.
func (h *Hub) deliverTo(identity string, eventType string, payload interface{}) bool {
	handle, ok := h.registry.Resolve(identity)
	if !ok {
		return false
	}

	client, ok := handle.(*Client)
	if !ok {
		return false
	}

	msg, err := NewMessage(eventType, payload)
	if err != nil {
		return false
	}

	return client.Send(msg) == nil
}

// broadcastPresence sends the current online snapshot to every connection,
// identified or not.
func (h *Hub) broadcastPresence() {
	msg, err := NewMessage(EventTypePresence, PresencePayload{
		Online: h.registry.Snapshot(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for client := range h.conns {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		_ = client.Send(msg)
	}
}

// partnerOf returns the other half of the pair, or "" for an unknown
// identity.
func (h *Hub) partnerOf(identity string) string {
	for i, id := range h.pair {
		if id == identity {
			return h.pair[(i+1)%len(h.pair)]
		}
	}
	return ""
}

// OnlineCount reports how many identities are currently online
func (h *Hub) OnlineCount() int {
	return h.registry.Count()
}
