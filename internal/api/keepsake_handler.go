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
)

// FeedPublisher fans a stored keepsake out to live connections
type FeedPublisher interface {
	PublishFeedItem(ctx context.Context, k *domain.Keepsake)
}

// KeepsakeHandler handles the shared feed: confessions, quotes, songs,
// memories, memes.
type KeepsakeHandler struct {
	keepsakes *database.KeepsakeRepository
	feed      FeedPublisher
	logger    *slog.Logger
}

func NewKeepsakeHandler(keepsakes *database.KeepsakeRepository, feed FeedPublisher, logger *slog.Logger) *KeepsakeHandler {
	return &KeepsakeHandler{
		keepsakes: keepsakes,
		feed:      feed,
		logger:    logger,
	}
}

// Create handles POST /keepsakes
func (h *KeepsakeHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.GetUsername(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		Kind     string `json:"kind"`
		Title    string `json:"title"`
		Body     string `json:"body"`
		MediaKey string `json:"media_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := domain.KeepsakeKind(input.Kind)
	if !domain.ValidKeepsakeKind(kind) {
		writeError(w, http.StatusBadRequest, "unknown kind: "+input.Kind)
		return
	}
	if input.Body == "" && input.MediaKey == "" {
		writeError(w, http.StatusBadRequest, "a keepsake needs a body or media")
		return
	}

	k := &domain.Keepsake{
		ID:        uuid.New(),
		Kind:      kind,
		Author:    identity,
		Title:     input.Title,
		Body:      input.Body,
		MediaKey:  input.MediaKey,
		CreatedAt: time.Now(),
	}

	if err := h.keepsakes.Create(r.Context(), k); err != nil {
		h.logger.Error("create keepsake failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save keepsake")
		return
	}

	if h.feed != nil {
		h.feed.PublishFeedItem(r.Context(), k)
	}

	writeJSON(w, http.StatusCreated, k)
}

// List handles GET /keepsakes (?kind=confession&limit=N), newest first
func (h *KeepsakeHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUsername(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var kind domain.KeepsakeKind
	if s := r.URL.Query().Get("kind"); s != "" {
		kind = domain.KeepsakeKind(s)
		if !domain.ValidKeepsakeKind(kind) {
			writeError(w, http.StatusBadRequest, "unknown kind: "+s)
			return
		}
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

	keepsakes, err := h.keepsakes.List(r.Context(), kind, limit)
	if err != nil {
		h.logger.Error("list keepsakes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list keepsakes")
		return
	}
	if keepsakes == nil {
		keepsakes = []domain.Keepsake{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"keepsakes": keepsakes})
}

// SetFavorite handles PUT /keepsakes/{id}/favorite
func (h *KeepsakeHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUsername(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid keepsake ID")
		return
	}

	var input struct {
		Favorite bool `json:"favorite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.keepsakes.SetFavorite(r.Context(), id, input.Favorite); err != nil {
		if errors.Is(err, domain.ErrKeepsakeNotFound) {
			writeError(w, http.StatusNotFound, "keepsake not found")
			return
		}
		h.logger.Error("set favorite failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update keepsake")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "favorite": input.Favorite})
}

// Counts handles GET /keepsakes/counts, one number per kind
func (h *KeepsakeHandler) Counts(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUsername(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	counts := make(map[string]int, len(domain.KeepsakeKinds))
	for _, kind := range domain.KeepsakeKinds {
		n, err := h.keepsakes.CountByKind(r.Context(), kind)
		if err != nil {
			h.logger.Error("count keepsakes failed", "kind", kind, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to count keepsakes")
			return
		}
		counts[string(kind)] = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}
