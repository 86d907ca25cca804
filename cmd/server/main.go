package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cavity/loveline/internal/api"
	"github.com/cavity/loveline/internal/auth"
	"github.com/cavity/loveline/internal/config"
	"github.com/cavity/loveline/internal/database"
	"github.com/cavity/loveline/internal/middleware"
	"github.com/cavity/loveline/internal/presence"
	"github.com/cavity/loveline/internal/pubsub"
	"github.com/cavity/loveline/internal/server"
	"github.com/cavity/loveline/internal/signaling"
	"github.com/cavity/loveline/internal/storage"
	"github.com/cavity/loveline/internal/websocket"
)

func main() {
	// Structured logging from the start
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context for initialization
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	if err := database.EnsureSchema(ctx, db, "migrations"); err != nil {
		slog.Error("failed to ensure database schema", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := database.NewUserRepository(db)
	messageRepo := database.NewMessageRepository(db)
	letterRepo := database.NewLetterRepository(db)
	keepsakeRepo := database.NewKeepsakeRepository(db)

	// Initialize token service (use a default key for dev if not set)
	jwtKey := cfg.JWTSigningKey
	if jwtKey == "" {
		if cfg.IsDevelopment() {
			jwtKey = "dev-signing-key-do-not-use-in-production!!" // 44 chars
			slog.Warn("using default JWT signing key - DO NOT USE IN PRODUCTION")
		} else {
			slog.Error("JWT_SIGNING_KEY is required in production")
			os.Exit(1)
		}
	}

	tokenService, err := auth.NewTokenService(jwtKey)
	if err != nil {
		slog.Error("failed to create token service", "error", err)
		os.Exit(1)
	}

	// Initialize auth service. cfg is the invite list: two usernames, ever.
	authService := auth.NewService(userRepo, tokenService, cfg)

	// Initialize R2 media storage (optional - skip if not configured)
	var mediaStore *storage.MediaStore
	if cfg.R2AccountID != "" && cfg.R2AccessKeyID != "" && cfg.R2SecretAccessKey != "" && cfg.R2Bucket != "" {
		mediaStore, err = storage.NewMediaStore(cfg.R2AccountID, cfg.R2AccessKeyID, cfg.R2SecretAccessKey, cfg.R2Bucket)
		if err != nil {
			slog.Error("failed to initialize R2 storage", "error", err)
			os.Exit(1)
		}
		slog.Info("R2 storage initialized", "bucket", cfg.R2Bucket)
	} else {
		slog.Warn("R2 storage not configured - media uploads disabled")
	}

	// Initialize PubSub (in-memory for the single-process deployment,
	// Redis when the relay and API run separately)
	var ps pubsub.PubSub
	if cfg.PubSubType == "redis" && cfg.RedisURL != "" {
		ps, err = pubsub.NewRedisPubSub(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	} else {
		ps = pubsub.NewMemoryPubSub()
	}
	defer ps.Close()

	// Presence registry and WebSocket hub
	registry := presence.NewRegistry()
	wsHub := websocket.NewHub(registry, cfg.InvitedUsernames, authService, messageRepo, letterRepo, keepsakeRepo, userRepo, ps, logger)
	go wsHub.Run(context.Background())
	wsHandler := websocket.NewHandler(wsHub, logger)

	// Signaling relay: one permanent room, no identities
	signalHub := signaling.NewHub(cfg.SignalRoom, logger)
	go signalHub.Run(context.Background())
	signalHandler := signaling.NewHandler(signalHub, &signaling.Config{
		Room:         cfg.SignalRoom,
		STUNURLs:     cfg.ICESTUNURLs,
		TURNURLs:     cfg.ICETURNURLs,
		TURNUsername: cfg.TURNUsername,
		TURNPassword: cfg.TURNPassword,
	}, logger)

	// Initialize handlers
	authHandler := api.NewAuthHandler(authService, userRepo, logger)
	userHandler := api.NewUserHandler(userRepo, registry, cfg.InvitedUsernames, logger)
	messageHandler := api.NewMessageHandler(messageRepo, cfg.InvitedUsernames, ps, logger)
	letterHandler := api.NewLetterHandler(letterRepo, cfg.InvitedUsernames, ps, logger)
	keepsakeHandler := api.NewKeepsakeHandler(keepsakeRepo, wsHub, logger)
	uploadHandler := api.NewUploadHandler(mediaStore, cfg.MaxUploadBytes)

	rateLimiter := middleware.NewRateLimiter(cfg.APIRequestsPerMin)

	// Create and start server
	deps := &server.Dependencies{
		DB:              db,
		AuthService:     authService,
		AuthHandler:     authHandler,
		UserHandler:     userHandler,
		MessageHandler:  messageHandler,
		LetterHandler:   letterHandler,
		KeepsakeHandler: keepsakeHandler,
		UploadHandler:   uploadHandler,
		WSHandler:       wsHandler,
		SignalHandler:   signalHandler,
		RateLimiter:     rateLimiter,
		StaticDir:       cfg.StaticDir,
		Logger:          logger,
	}

	srv := server.New(cfg, deps)

	// Graceful shutdown setup
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr, "pair", cfg.InvitedUsernames)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt
	<-shutdownCtx.Done()
	slog.Info("shutting down gracefully...")

	// Give active connections 10 seconds to finish
	timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeoutCancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
