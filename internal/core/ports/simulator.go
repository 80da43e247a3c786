package ports

import (
	"encoding/json"

	"github.com/lorrc/incident-sync/internal/core/domain"
)

// EntityStore is the stream simulator's backing store. It is in-memory and
// hermetic; the authoritative production store is out of scope.
type EntityStore interface {
	List(entityType domain.EntityType, scope string) ([]domain.Record, error)

	// Get returns one entity, errors.ErrNotFound when absent, or
	// errors.ErrForbidden when the entity is restricted for the caller.
	Get(entityType domain.EntityType, scope, key string) (domain.Record, error)

	// Put creates or replaces an entity and returns the event id issued
	// for the mutation. Event ids are monotonically increasing.
	Put(entityType domain.EntityType, scope, key string, payload json.RawMessage, restricted bool) (string, error)

	// LastEventID returns the most recently issued event id. It is
	// never empty; an untouched store reports the zero position.
	LastEventID() string
}

// FrameBroadcaster fans a stream frame out to every connected push client.
type FrameBroadcaster interface {
	Broadcast(frame domain.Frame)
}
