package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/database"
	"github.com/cavity/loveline/internal/domain"
	"github.com/cavity/loveline/internal/presence"
)

// UserHandler handles profile and presence endpoints
type UserHandler struct {
	users    *database.UserRepository
	registry *presence.Registry
	pair     []string
	logger   *slog.Logger
}

func NewUserHandler(users *database.UserRepository, registry *presence.Registry, pair []string, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		registry: registry,
		pair:     pair,
		logger:   logger,
	}
}

// UpdateMe handles PATCH /users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input struct {
		DisplayName *string `json:"display_name"`
		AvatarURL   *string `json:"avatar_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("fetch user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}

	if input.DisplayName != nil {
		if *input.DisplayName == "" || len(*input.DisplayName) > 64 {
			writeError(w, http.StatusBadRequest, "display name must be 1-64 characters")
			return
		}
		user.DisplayName = *input.DisplayName
	}
	if input.AvatarURL != nil {
		user.AvatarURL = *input.AvatarURL
	}

	if err := h.users.Update(r.Context(), user); err != nil {
		h.logger.Error("update user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, user.ToPublic())
}

// GetPartner handles GET /users/partner, the other half's profile
func (h *UserHandler) GetPartner(w http.ResponseWriter, r *http.Request) {
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

	user, err := h.users.GetByUsername(r.Context(), partner)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "partner has not registered yet")
			return
		}
		h.logger.Error("fetch partner failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch partner")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":   user.ToPublic(),
		"online": h.registry.IsOnline(partner),
	})
}

// Presence handles GET /presence with the current online snapshot
func (h *UserHandler) Presence(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.GetUsername(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	online := h.registry.Snapshot()
	if online == nil {
		online = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"online": online})
}
