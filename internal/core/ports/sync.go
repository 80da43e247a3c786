package ports

import (
	"context"

	"github.com/lorrc/incident-sync/internal/core/domain"
)

// Locker is the named, origin-scoped mutual-exclusion primitive the
// connection coordinator builds on. Implementations must release the lock
// when the holding context dies, even abnormally; application code never
// tracks ownership in flags of its own.
type Locker interface {
	// TryWithLock runs fn while holding the named lock and releases it
	// when fn returns. It returns false without error when the lock is
	// already held elsewhere; for all but one of N open contexts that is
	// the expected outcome, not a failure.
	TryWithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// MarkerStore persists the last-seen event id for one browser profile. The
// marker is shared by every context of the profile, not per tab.
type MarkerStore interface {
	// Read returns the stored event id, or "" when none has been
	// recorded yet.
	Read() (string, error)
	Write(id string) error
}

// ChangeHandler receives one change event on a subscribed topic.
type ChangeHandler func(event domain.ChangeEvent)

// ContextChannel is one browsing context's endpoint on the cross-context
// channel. Publishing never echoes back to the publisher; delivery order
// within a topic matches publish order for a single publisher. Ownership of
// a published event transfers on publish.
type ContextChannel interface {
	Publish(topic domain.Topic, event domain.ChangeEvent)

	// Subscribe registers a handler for one topic and returns a cancel
	// function. A context may subscribe to multiple topics.
	Subscribe(topic domain.Topic, handler ChangeHandler) (cancel func())

	// Close detaches the endpoint from the channel and cancels its
	// subscriptions.
	Close()
}

// FrameHandler receives one classified stream frame.
type FrameHandler func(frame domain.Frame)

// StreamTransport is the long-lived, credentialed server push connection.
type StreamTransport interface {
	// Connect opens the stream and delivers frames, in order, to onFrame
	// until the stream is terminally closed or ctx ends. Transient drops
	// are retried internally and never surface to the caller.
	Connect(ctx context.Context, onFrame FrameHandler) error
}

// EntityFetcher is the collection fetch endpoint, an external collaborator
// of the reconciliation layer.
type EntityFetcher interface {
	FetchCollection(ctx context.Context, entityType domain.EntityType, scope string) ([]domain.Record, error)

	// FetchEntity returns one entity. An authorization failure is
	// reported as errors.ErrForbidden; row-level visibility differs per
	// viewer, so the caller treats it as "not visible to me".
	FetchEntity(ctx context.Context, entityType domain.EntityType, scope, key string) (domain.Record, error)
}

// CollectionRenderer is the capability a displaying page implements. The
// reconciler decides what changed; the page decides how to redraw.
type CollectionRenderer interface {
	// RedrawAll replaces the rendered collection wholesale.
	RedrawAll(records []domain.Record)

	// RedrawRow redraws a single inserted or updated row.
	RedrawRow(record domain.Record)

	// RemoveRow drops a row that is no longer visible to this viewer.
	RemoveRow(key string)

	// ShowError surfaces a visible error state for a failed refresh. The
	// reconciler does not retry on its own; the next change event or a
	// user action retriggers.
	ShowError(err error)
}

// DegradedFunc tells the user that live updates are structurally
// unavailable in this context, instead of the page silently never
// refreshing.
type DegradedFunc func(reason string)
