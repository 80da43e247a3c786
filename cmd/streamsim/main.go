package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/crypto/bcrypt"

	httpAdapter "github.com/lorrc/incident-sync/internal/adapters/primary/http"
	mw "github.com/lorrc/incident-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/incident-sync/internal/adapters/primary/websocket"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/memstore"
	"github.com/lorrc/incident-sync/internal/auth"
	"github.com/lorrc/incident-sync/internal/config"
	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/infrastructure/logging"
)

// streamsim is a self-contained incident tracking server: the entity API,
// the login endpoint, and the websocket push stream, backed by an in-memory
// store seeded with demo data. It exists so sync sessions have something
// real to connect to.
func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: "streamsim",
		Environment: cfg.App.Environment,
	})

	logger.Info("starting stream simulator",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	// 3. Initialize Store & Real-time Components
	store := memstore.New()
	seedStore(store, logger)

	tokenManager := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	hub := websocket.NewHub(logger)
	go hub.Run()

	// 4. Demo Account
	password := cfg.Sync.Password
	if password == "" {
		password = "trailhead"
		logger.Warn("SYNC_PASSWORD not set, using the demo default")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("failed to hash demo password", "error", err)
		os.Exit(1)
	}
	accounts := map[string]string{cfg.Sync.Username: string(hash)}

	// 5. Rate Limiter
	var rateLimiter *mw.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
			CleanupInterval:   time.Minute,
			TTL:               3 * time.Minute,
		})
	}

	// 6. Handlers (Primary Adapters)
	errorHandler := httpAdapter.NewErrorHandler(logger)
	authHandler := httpAdapter.NewAuthHandler(accounts, tokenManager, errorHandler, logger)
	entityHandler := httpAdapter.NewEntityHandler(store, hub, errorHandler, logger)
	streamHandler := httpAdapter.NewStreamHandler(hub, store, tokenManager, cfg, logger)
	healthHandler := httpAdapter.NewHealthHandler(hub, cfg.App.Version)

	// 7. Setup Router
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "PUT", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if rateLimiter != nil {
		r.Use(rateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	r.Get("/health", healthHandler.HandleHealth)
	r.Get("/health/live", healthHandler.HandleLiveness)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth routes
		r.Route("/auth", authHandler.RegisterRoutes)

		// Push stream (authentication is handled inside the handler)
		r.Get("/stream", streamHandler.ServeHTTP)

		// Protected REST routes
		r.Group(func(r chi.Router) {
			r.Use(mw.JWTMiddleware(tokenManager))
			entityHandler.RegisterRoutes(r)
		})
	})

	// 8. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// seedStore fills the store with enough demo data to drive a session:
// incidents and field reports across two scopes, plus one restricted
// incident to exercise the row-removal path.
func seedStore(store *memstore.Store, logger *slog.Logger) {
	seed := []struct {
		entityType domain.EntityType
		scope      string
		key        string
		payload    string
		restricted bool
	}{
		{domain.EntityIncident, "2025", "1", `{"summary":"Downed tree on east trail","state":"open"}`, false},
		{domain.EntityIncident, "2025", "2", `{"summary":"Lost hiker near ridge","state":"dispatched"}`, false},
		{domain.EntityIncident, "2025", "3", `{"summary":"Medical at gate C","state":"closed"}`, true},
		{domain.EntityIncident, "2024", "1", `{"summary":"Flooded access road","state":"closed"}`, false},
		{domain.EntityFieldReport, "2025", "1", `{"text":"North perimeter quiet overnight"}`, false},
	}

	for _, s := range seed {
		if _, err := store.Put(s.entityType, s.scope, s.key, json.RawMessage(s.payload), s.restricted); err != nil {
			logger.Error("failed to seed store", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("store seeded", "entities", len(seed), "last_event_id", store.LastEventID())
}
