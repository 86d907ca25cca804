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

// LetterHandler handles letter endpoints. Letters are long-form and
// low-frequency, so REST is their primary path.
type LetterHandler struct {
	letters *database.LetterRepository
	pair    []string
	ps      pubsub.PubSub
	logger  *slog.Logger
}

func NewLetterHandler(letters *database.LetterRepository, pair []string, ps pubsub.PubSub, logger *slog.Logger) *LetterHandler {
	return &LetterHandler{
		letters: letters,
		pair:    pair,
		ps:      ps,
		logger:  logger,
	}
}

// Create handles POST /letters
func (h *LetterHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(input.Title) > 200 {
		writeError(w, http.StatusBadRequest, "title too long (max 200)")
		return
	}

	receiver := partnerOf(h.pair, identity)
	if receiver == "" {
		writeError(w, http.StatusForbidden, "unknown identity")
		return
	}

	letter := &domain.Letter{
		ID:        uuid.New(),
		Sender:    identity,
		Receiver:  receiver,
		Title:     input.Title,
		Body:      input.Body,
		CreatedAt: time.Now(),
	}

	if err := h.letters.Create(r.Context(), letter); err != nil {
		h.logger.Error("create letter failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save letter")
		return
	}

	h.notifyReceiver(r.Context(), letter)

	writeJSON(w, http.StatusCreated, letter)
}

// List handles GET /letters (sent and received, newest first)
func (h *LetterHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
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

	letters, err := h.letters.ListFor(r.Context(), identity, limit)
	if err != nil {
		h.logger.Error("list letters failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list letters")
		return
	}
	if letters == nil {
		letters = []domain.Letter{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"letters": letters})
}

// Get handles GET /letters/{id}
func (h *LetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid letter ID")
		return
	}

	letter, err := h.letters.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrLetterNotFound) {
			writeError(w, http.StatusNotFound, "letter not found")
			return
		}
		h.logger.Error("get letter failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch letter")
		return
	}

	// Letters are private to the pair
	if letter.Sender != identity && letter.Receiver != identity {
		writeError(w, http.StatusForbidden, "not your letter")
		return
	}

	writeJSON(w, http.StatusOK, letter)
}

// MarkRead handles POST /letters/{id}/read
func (h *LetterHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid letter ID")
		return
	}

	if err := h.letters.MarkRead(r.Context(), id, identity); err != nil {
		if errors.Is(err, domain.ErrLetterNotFound) {
			writeError(w, http.StatusNotFound, "letter not found or already read")
			return
		}
		h.logger.Error("mark letter read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (h *LetterHandler) notifyReceiver(ctx context.Context, letter *domain.Letter) {
	if h.ps == nil {
		return
	}

	payload, err := json.Marshal(websocket.LetterNewPayload{
		ID:        letter.ID,
		Sender:    letter.Sender,
		Title:     letter.Title,
		Body:      letter.Body,
		CreatedAt: letter.CreatedAt,
	})
	if err != nil {
		return
	}

	topic := pubsub.Topics.User(letter.Receiver)
	err = h.ps.Publish(ctx, topic, &pubsub.Message{
		Topic:   topic,
		Type:    websocket.EventTypeLetterNew,
		Payload: payload,
	})
	if err != nil {
		h.logger.Warn("notify receiver failed", "error", err)
	}
}
