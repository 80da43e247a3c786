package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// ReconcilerState names the reconciler's current activity.
type ReconcilerState string

const (
	StateIdle       ReconcilerState = "idle"
	StateRefreshing ReconcilerState = "refreshing"
	StatePatching   ReconcilerState = "patching"
)

// Reconciler folds change notifications into one displayed collection: the
// projection of one entity type for one scope. A bulk invalidation discards
// local state and re-fetches the whole collection; a targeted change
// patches a single row, keeping steady-state traffic proportional to actual
// changes rather than to collection size.
type Reconciler struct {
	entityType domain.EntityType
	scope      string
	fetcher    ports.EntityFetcher
	renderer   ports.CollectionRenderer
	channel    ports.ContextChannel
	logger     *slog.Logger

	mu     sync.Mutex
	state  ReconcilerState
	view   *domain.CollectionView
	cancel func()
}

// NewReconciler creates a reconciler for one collection page.
func NewReconciler(
	entityType domain.EntityType,
	scope string,
	fetcher ports.EntityFetcher,
	renderer ports.CollectionRenderer,
	channel ports.ContextChannel,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		entityType: entityType,
		scope:      scope,
		fetcher:    fetcher,
		renderer:   renderer,
		channel:    channel,
		state:      StateIdle,
		view:       domain.NewCollectionView(),
		logger: logger.With(
			"component", "reconciler",
			"entity_type", entityType,
			"scope", scope,
		),
	}
}

// Start subscribes the reconciler to its entity type's topic. Events are
// applied one at a time in delivery order.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	r.cancel = r.channel.Subscribe(r.entityType.Topic(), func(event domain.ChangeEvent) {
		r.Apply(ctx, event)
	})
}

// Stop cancels the subscription. The view keeps its last contents.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Apply folds one change event into the view. Events for other entity
// types or scopes are ignored.
func (r *Reconciler) Apply(ctx context.Context, event domain.ChangeEvent) {
	if event.EntityType != r.entityType {
		return
	}

	if event.BulkInvalidation {
		r.refresh(ctx)
		return
	}

	if event.Scope != r.scope || event.EntityKey == "" {
		return
	}
	r.patch(ctx, event.EntityKey)
}

// refresh discards the view and re-fetches the whole collection. This is
// the convergence mechanism: whatever individual events were missed, one
// successful refresh makes the view current.
func (r *Reconciler) refresh(ctx context.Context) {
	r.setState(StateRefreshing)
	defer r.setState(StateIdle)

	records, err := r.fetcher.FetchCollection(ctx, r.entityType, r.scope)
	if err != nil {
		r.logger.Warn("collection refresh failed", "error", err)
		r.renderer.ShowError(err)
		return
	}

	r.mu.Lock()
	r.view.Replace(records)
	snapshot := r.view.Records()
	r.mu.Unlock()

	r.renderer.RedrawAll(snapshot)
}

// patch fetches one changed entity and merges it into the view. A
// forbidden fetch means the row is not visible to this viewer; it is
// removed quietly rather than surfaced as an error.
func (r *Reconciler) patch(ctx context.Context, key string) {
	r.setState(StatePatching)
	defer r.setState(StateIdle)

	record, err := r.fetcher.FetchEntity(ctx, r.entityType, r.scope, key)
	if errors.Is(err, apperrors.ErrForbidden) {
		r.mu.Lock()
		removed := r.view.Remove(key)
		r.mu.Unlock()
		if removed {
			r.logger.Debug("row no longer visible, removed", "key", key)
			r.renderer.RemoveRow(key)
		}
		return
	}
	if err != nil {
		r.logger.Warn("row patch failed", "key", key, "error", err)
		r.renderer.ShowError(err)
		return
	}

	r.mu.Lock()
	inserted := r.view.Upsert(record)
	r.mu.Unlock()

	r.logger.Debug("row patched", "key", key, "inserted", inserted)
	r.renderer.RedrawRow(record)
}

// State returns the reconciler's current state.
func (r *Reconciler) State() ReconcilerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Records returns a snapshot of the view in display order.
func (r *Reconciler) Records() []domain.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Records()
}

func (r *Reconciler) setState(s ReconcilerState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
