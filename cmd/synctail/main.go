package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/api"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/channel"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/lease"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/marker"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/stream"
	"github.com/lorrc/incident-sync/internal/config"
	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/core/ports"
	"github.com/lorrc/incident-sync/internal/core/services"
	"github.com/lorrc/incident-sync/internal/infrastructure/logging"
)

// synctail runs one sync session against an incident tracking server and
// prints every redraw its reconcilers perform. Run several of them with the
// same profile directory to watch holder election and the cross-context
// channel at work in one process each.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: "synctail",
		Environment: cfg.App.Environment,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Authenticate first; everything downstream needs the token.
	client := api.NewClient(cfg.Sync.ServerURL, "")
	if err := client.Login(ctx, cfg.Sync.Username, cfg.Sync.Password); err != nil {
		logger.Error("login failed", "error", err)
		os.Exit(1)
	}
	logger.Info("logged in", "server", cfg.Sync.ServerURL, "username", cfg.Sync.Username)

	locker, err := lease.NewFileLocker(cfg.Sync.ProfileDir)
	if err != nil {
		logger.Error("failed to open profile lock", "error", err)
		os.Exit(1)
	}

	markerStore, err := marker.NewFileStore(cfg.Sync.ProfileDir)
	if err != nil {
		logger.Error("failed to open marker store", "error", err)
		os.Exit(1)
	}

	transport := stream.NewTransport(stream.Config{
		URL:      streamURL(cfg.Sync.ServerURL),
		Token:    client.Token(),
		PongWait: cfg.WebSocket.PongWait,
	}, logger)

	bus := channel.NewBus(logger)

	var collections []services.CollectionSpec
	for _, scope := range cfg.Sync.Scopes {
		for _, entityType := range domain.KnownEntityTypes() {
			collections = append(collections, services.CollectionSpec{
				EntityType: entityType,
				Scope:      scope,
				Renderer:   newLogRenderer(logger, entityType, scope),
			})
		}
	}

	session := services.NewSession(services.SessionConfig{
		Coordinator: services.CoordinatorConfig{
			LockName:         cfg.Sync.LockName,
			MinRetryInterval: cfg.Sync.MinRetryInterval,
			RetryJitter:      cfg.Sync.RetryJitter,
		},
		Collections: collections,
	}, services.SessionDeps{
		Locker:         locker,
		Marker:         markerStore,
		Transport:      transport,
		Fetcher:        client,
		Channel:        bus.Open(),
		PublishChannel: bus.Open(),
		OnDegraded: func(reason string) {
			logger.Warn("session degraded", "reason", reason)
		},
		Logger: logger,
	})

	logger.Info("session starting", "scopes", cfg.Sync.Scopes, "profile_dir", cfg.Sync.ProfileDir)

	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session ended with error", "error", err)
		os.Exit(1)
	}

	logger.Info("session stopped")
}

// streamURL derives the websocket push endpoint from the API base URL.
func streamURL(serverURL string) string {
	ws := serverURL
	if strings.HasPrefix(ws, "https://") {
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	} else if strings.HasPrefix(ws, "http://") {
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimRight(ws, "/") + "/api/v1/stream"
}

// logRenderer prints redraws instead of drawing them.
type logRenderer struct {
	logger *slog.Logger
}

var _ ports.CollectionRenderer = (*logRenderer)(nil)

func newLogRenderer(logger *slog.Logger, entityType domain.EntityType, scope string) *logRenderer {
	return &logRenderer{
		logger: logger.With("collection", string(entityType), "scope", scope),
	}
}

func (r *logRenderer) RedrawAll(records []domain.Record) {
	r.logger.Info("collection redrawn", "rows", len(records))
}

func (r *logRenderer) RedrawRow(record domain.Record) {
	r.logger.Info("row redrawn", "key", record.Key, "payload", string(record.Payload))
}

func (r *logRenderer) RemoveRow(key string) {
	r.logger.Info("row removed", "key", key)
}

func (r *logRenderer) ShowError(err error) {
	r.logger.Warn("collection error shown", "error", err)
}
