package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cavity/loveline/internal/api"
	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/config"
	"github.com/cavity/loveline/internal/database"
	"github.com/cavity/loveline/internal/middleware"
	"github.com/cavity/loveline/internal/signaling"
	"github.com/cavity/loveline/internal/websocket"
)

// Dependencies holds all service dependencies for the server
type Dependencies struct {
	DB              *database.DB
	AuthService     *auth.Service
	AuthHandler     *api.AuthHandler
	UserHandler     *api.UserHandler
	MessageHandler  *api.MessageHandler
	LetterHandler   *api.LetterHandler
	KeepsakeHandler *api.KeepsakeHandler
	UploadHandler   *api.UploadHandler
	WSHandler       *websocket.Handler
	SignalHandler   *signaling.Handler
	RateLimiter     *middleware.RateLimiter
	StaticDir       string
	Logger          *slog.Logger
}

// New creates an HTTP server with all routes configured.
func New(cfg *config.Config, deps *Dependencies) *http.Server {
	mux := http.NewServeMux()

	registerRoutes(mux, cfg, deps)

	handler := chainMiddleware(mux,
		requestIDMiddleware,
		corsMiddleware(cfg),
		loggingMiddleware(deps.Logger),
		recoverMiddleware(deps.Logger),
	)

	return &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps *Dependencies) {
	// Health check - essential for docker, k8s, load balancers
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Ready check - verifies DB connectivity
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.DB.Health(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not ready","error":"database unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// =========================================================================
	// Auth routes (public)
	// =========================================================================
	mux.HandleFunc("POST /auth/register", deps.AuthHandler.Register)
	mux.HandleFunc("POST /auth/login", deps.AuthHandler.Login)
	mux.HandleFunc("POST /auth/refresh", deps.AuthHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", deps.AuthHandler.Logout)

	// =========================================================================
	// Protected routes (require auth, rate limited)
	// =========================================================================
	authMW := auth.Middleware(deps.AuthService)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMW(deps.RateLimiter.Middleware(h))
	}

	mux.Handle("GET /auth/me", protect(deps.AuthHandler.Me))

	// User and presence routes
	mux.Handle("PATCH /users/me", protect(deps.UserHandler.UpdateMe))
	mux.Handle("GET /users/partner", protect(deps.UserHandler.GetPartner))
	mux.Handle("GET /presence", protect(deps.UserHandler.Presence))

	// Message routes
	mux.Handle("GET /messages", protect(deps.MessageHandler.List))
	mux.Handle("POST /messages", protect(deps.MessageHandler.Create))
	mux.Handle("GET /messages/unread", protect(deps.MessageHandler.UnreadCount))
	mux.Handle("POST /messages/{id}/read", protect(deps.MessageHandler.MarkRead))

	// Letter routes
	mux.Handle("POST /letters", protect(deps.LetterHandler.Create))
	mux.Handle("GET /letters", protect(deps.LetterHandler.List))
	mux.Handle("GET /letters/{id}", protect(deps.LetterHandler.Get))
	mux.Handle("POST /letters/{id}/read", protect(deps.LetterHandler.MarkRead))

	// Keepsake feed routes
	mux.Handle("POST /keepsakes", protect(deps.KeepsakeHandler.Create))
	mux.Handle("GET /keepsakes", protect(deps.KeepsakeHandler.List))
	mux.Handle("GET /keepsakes/counts", protect(deps.KeepsakeHandler.Counts))
	mux.Handle("PUT /keepsakes/{id}/favorite", protect(deps.KeepsakeHandler.SetFavorite))

	// Upload routes
	mux.Handle("POST /uploads/init", protect(deps.UploadHandler.InitUpload))
	mux.Handle("GET /uploads/url", protect(deps.UploadHandler.GetMediaURL))

	// =========================================================================
	// WebSocket routes. /ws identifies via user.online, /signal is the
	// anonymous call relay.
	// =========================================================================
	mux.Handle("GET /ws", deps.WSHandler)
	mux.Handle("GET /signal", deps.SignalHandler)
	mux.HandleFunc("GET /signal/config", deps.SignalHandler.ConfigHandler)
	mux.HandleFunc("GET /signal/health", deps.SignalHandler.HealthHandler)

	// =========================================================================
	// Static files (frontend) - serve at root
	// =========================================================================
	if deps.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(deps.StaticDir)))
	}
}
