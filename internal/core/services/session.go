package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// CollectionSpec declares one collection a browsing context displays and
// the renderer it redraws through.
type CollectionSpec struct {
	EntityType domain.EntityType
	Scope      string
	Renderer   ports.CollectionRenderer
}

// SessionConfig configures one browsing context's sync session.
type SessionConfig struct {
	Coordinator CoordinatorConfig
	Collections []CollectionSpec
}

// SessionDeps collects the adapters a session is wired with.
type SessionDeps struct {
	// Locker may be nil when the execution context has no access to the
	// coordination primitive; the session then runs degraded.
	Locker    ports.Locker
	Marker    ports.MarkerStore
	Transport ports.StreamTransport
	Fetcher   ports.EntityFetcher

	// Channel is the endpoint the reconcilers listen on. PublishChannel
	// is the separate endpoint the push client publishes through, so the
	// holder context's own reconcilers still hear its events; a channel
	// endpoint never receives what it published itself. When nil,
	// Channel is used for both and the holder's page relies on other
	// contexts' publications only.
	Channel        ports.ContextChannel
	PublishChannel ports.ContextChannel

	OnDegraded ports.DegradedFunc
	Logger     *slog.Logger
}

// Session wires one browsing context into the update distribution layer:
// it runs a reconciler per displayed collection and keeps bidding for the
// connection lease. Whether or not this context wins, its reconcilers hear
// every change republished on the cross-context channel.
type Session struct {
	id          uuid.UUID
	cfg         SessionConfig
	deps        SessionDeps
	reconcilers []*Reconciler
	logger      *slog.Logger
}

// NewSession creates a session for one browsing context.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	id := uuid.New()
	logger := deps.Logger.With("context_id", id.String())

	s := &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	for _, spec := range cfg.Collections {
		s.reconcilers = append(s.reconcilers, NewReconciler(
			spec.EntityType,
			spec.Scope,
			deps.Fetcher,
			spec.Renderer,
			deps.Channel,
			logger,
		))
	}
	return s
}

// ID returns the context's identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Reconcilers returns the session's reconcilers, one per displayed
// collection.
func (s *Session) Reconcilers() []*Reconciler {
	return s.reconcilers
}

// Run starts the reconcilers and drives the holder election loop until ctx
// ends. In degraded mode the reconcilers still listen; they just never
// hear anything from this process unless another context holds the lease.
func (s *Session) Run(ctx context.Context) error {
	for _, r := range s.reconcilers {
		r.Start(ctx)
	}
	publishChannel := s.deps.PublishChannel
	if publishChannel == nil {
		publishChannel = s.deps.Channel
	}

	defer func() {
		for _, r := range s.reconcilers {
			r.Stop()
		}
		if publishChannel != s.deps.Channel {
			publishChannel.Close()
		}
		s.deps.Channel.Close()
	}()

	coordinator := NewCoordinator(s.deps.Locker, s.cfg.Coordinator, s.deps.OnDegraded, s.logger)
	pushClient := NewPushClient(s.deps.Transport, s.deps.Marker, publishChannel, s.logger)

	s.logger.Info("session started", "collections", len(s.reconcilers))

	err := coordinator.Run(ctx, pushClient.Run)
	if errors.Is(err, apperrors.ErrLockUnavailable) {
		// Degraded: stay alive for the page's lifetime anyway.
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}
