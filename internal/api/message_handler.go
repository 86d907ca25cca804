package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/database"
	"github.com/cavity/loveline/internal/domain"
	"github.com/cavity/loveline/internal/pubsub"
	"github.com/cavity/loveline/internal/websocket"
)

const defaultPageSize = 50

// MessageHandler handles chat history endpoints. Sending normally happens
// over the websocket; the POST here is the fallback when the socket is down.
type MessageHandler struct {
	messages *database.MessageRepository
	pair     []string
	ps       pubsub.PubSub
	logger   *slog.Logger
}

func NewMessageHandler(messages *database.MessageRepository, pair []string, ps pubsub.PubSub, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		pair:     pair,
		ps:       ps,
		logger:   logger,
	}
}

// List handles GET /messages with cursor pagination (?before=RFC3339&limit=N)
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	partner := partnerOf(h.pair, identity)
	if partner == "" {
		writeError(w, http.StatusForbidden, "unknown identity")
		return
	}

	limit := defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be 1-200")
			return
		}
		limit = n
	}

	var before *time.Time
	if s := r.URL.Query().Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC3339")
			return
		}
		before = &t
	}

	messages, err := h.messages.ListBetween(r.Context(), identity, partner, before, limit)
	if err != nil {
		h.logger.Error("list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": len(messages) == limit,
	})
}

// Create handles POST /messages
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(input.Body) > 10000 {
		writeError(w, http.StatusBadRequest, "body too long (max 10000)")
		return
	}

	receiver := partnerOf(h.pair, identity)
	if receiver == "" {
		writeError(w, http.StatusForbidden, "unknown identity")
		return
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		Sender:    identity,
		Receiver:  receiver,
		Body:      input.Body,
		CreatedAt: time.Now(),
	}

	if err := h.messages.Create(r.Context(), msg); err != nil {
		h.logger.Error("create message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	h.notifyReceiver(r.Context(), msg)

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /messages/{id}/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid message ID")
		return
	}

	if err := h.messages.MarkRead(r.Context(), id, identity); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found or already read")
			return
		}
		h.logger.Error("mark read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

// UnreadCount handles GET /messages/unread
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.messages.CountUnread(r.Context(), identity)
	if err != nil {
		h.logger.Error("count unread failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread": count})
}

// notifyReceiver pushes the message onto the receiver's live topic. Best
// effort only: if they are offline nobody is subscribed and that is fine.
func (h *MessageHandler) notifyReceiver(ctx context.Context, msg *domain.Message) {
	if h.ps == nil {
		return
	}

	payload, err := json.Marshal(websocket.MessageNewPayload{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return
	}

	topic := pubsub.Topics.User(msg.Receiver)
	err = h.ps.Publish(ctx, topic, &pubsub.Message{
		Topic:   topic,
		Type:    websocket.EventTypeMessageNew,
		Payload: payload,
	})
	if err != nil {
		h.logger.Warn("notify receiver failed", "error", err)
	}
}
