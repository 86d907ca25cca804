package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for client -> server
const (
	EventTypeUserOnline  = "user.online"
	EventTypeMessageSend = "message.send"
	EventTypeLetterSend  = "letter.send"
	EventTypeTypingStart = "typing.start"
	EventTypeTypingStop  = "typing.stop"
	EventTypeReceiptRead = "receipt.read"
	EventTypeFeedPosted  = "feed.posted"
)

// Event types for server -> client
const (
	EventTypeError         = "error"
	EventTypePresence      = "presence"
	EventTypeMessageNew    = "message.new"
	EventTypeMessageSent   = "message.sent"
	EventTypeMessageFailed = "message.failed"
	EventTypeLetterNew     = "letter.new"
	EventTypeLetterSent    = "letter.sent"
	EventTypeTyping        = "typing"
	EventTypeReceiptUpdate = "receipt.updated"
	EventTypeFeedNew       = "feed.new"
	EventTypeFeedSaved     = "feed.saved"
)

// Message is the base WebSocket message envelope
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(eventType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// UserOnlinePayload identifies the connection. The token carries the
// username, which doubles as the presence identity.
type UserOnlinePayload struct {
	Token string `json:"token"` // JWT access token
}

// MessageSendPayload for sending a chat message. The receiver is implicit:
// it is always the other half of the pair.
type MessageSendPayload struct {
	Body   string `json:"body"`
	TempID string `json:"temp_id,omitempty"` // Client-side temp ID for optimistic UI
}

// LetterSendPayload for sending a letter
type LetterSendPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ReceiptReadPayload for marking a message as read
type ReceiptReadPayload struct {
	MessageID string `json:"message_id"`
}

// FeedPostedPayload for posting a keepsake to the shared feed
type FeedPostedPayload struct {
	Kind     string `json:"kind"`
	Title    string `json:"title,omitempty"`
	Body     string `json:"body"`
	MediaKey string `json:"media_key,omitempty"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PresencePayload carries the full set of online identities. It is sent to
// every connection whenever anyone comes or goes, so clients never have to
// diff partial updates.
type PresencePayload struct {
	Online []string `json:"online"`
}

// MessageNewPayload delivers a chat message to its receiver
type MessageNewPayload struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageSentPayload confirms persistence to the sender
type MessageSentPayload struct {
	ID        uuid.UUID `json:"id"`
	TempID    string    `json:"temp_id,omitempty"`
	Delivered bool      `json:"delivered"` // false means stored for later, partner offline
	CreatedAt time.Time `json:"created_at"`
}

// MessageFailedPayload tells the sender their message was not stored
type MessageFailedPayload struct {
	TempID string `json:"temp_id,omitempty"`
	Reason string `json:"reason"`
}

// LetterNewPayload delivers a letter to its receiver
type LetterNewPayload struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// LetterSentPayload confirms a letter was stored
type LetterSentPayload struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// TypingBroadcastPayload relays typing status to the partner
type TypingBroadcastPayload struct {
	Identity string `json:"identity"`
	IsTyping bool   `json:"is_typing"`
}

// ReceiptUpdatePayload tells the original sender their message was read
type ReceiptUpdatePayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Reader    string    `json:"reader"`
	ReadAt    time.Time `json:"read_at"`
}

// FeedNewPayload broadcasts a fresh keepsake to everyone but its author
type FeedNewPayload struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Author    string    `json:"author"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	MediaKey  string    `json:"media_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedSavedPayload confirms a keepsake post to its author
type FeedSavedPayload struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}
