package lease

import (
	"context"
	"sync"

	"github.com/lorrc/incident-sync/internal/core/ports"
)

var _ ports.Locker = (*Registry)(nil)

// Registry is a named-lock Locker for browsing contexts that live in one
// process. Release happens in a defer, so a work function that panics still
// gives the lock up; no holder can die without releasing.
type Registry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewRegistry returns an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]bool)}
}

// TryWithLock runs fn while holding the named lock. It returns false
// without running fn when another context already holds it.
func (r *Registry) TryWithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	r.mu.Lock()
	if r.held[name] {
		r.mu.Unlock()
		return false, nil
	}
	r.held[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.held, name)
		r.mu.Unlock()
	}()

	return true, fn(ctx)
}

// Held reports whether the named lock is currently taken.
func (r *Registry) Held(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[name]
}
