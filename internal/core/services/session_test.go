package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lorrc/incident-sync/internal/adapters/secondary/channel"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/lease"
	"github.com/lorrc/incident-sync/internal/adapters/secondary/marker"
	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
	"github.com/lorrc/incident-sync/internal/core/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport feeds hand-written frames to whichever session holds
// the lease, standing in for the server's push endpoint.
type scriptedTransport struct {
	frames    chan domain.Frame
	connected chan struct{}
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		frames:    make(chan domain.Frame, 16),
		connected: make(chan struct{}, 8),
	}
}

func (t *scriptedTransport) Connect(ctx context.Context, onFrame ports.FrameHandler) error {
	select {
	case t.connected <- struct{}{}:
	default:
	}
	for {
		select {
		case frame := <-t.frames:
			onFrame(frame)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// fakeFetcher serves collections and entities out of maps.
type fakeFetcher struct {
	mu          sync.Mutex
	collections map[string][]domain.Record
	entities    map[string]domain.Record
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		collections: make(map[string][]domain.Record),
		entities:    make(map[string]domain.Record),
	}
}

func (f *fakeFetcher) setCollection(entityType domain.EntityType, scope string, records ...domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[fmt.Sprintf("%s/%s", entityType, scope)] = records
}

func (f *fakeFetcher) setEntity(entityType domain.EntityType, scope string, rec domain.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[fmt.Sprintf("%s/%s/%s", entityType, scope, rec.Key)] = rec
}

func (f *fakeFetcher) FetchCollection(_ context.Context, entityType domain.EntityType, scope string) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[fmt.Sprintf("%s/%s", entityType, scope)], nil
}

func (f *fakeFetcher) FetchEntity(_ context.Context, entityType domain.EntityType, scope, key string) (domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.entities[fmt.Sprintf("%s/%s/%s", entityType, scope, key)]
	if !ok {
		return domain.Record{}, apperrors.ErrNotFound
	}
	return rec, nil
}

// fakeRenderer records what a page would have drawn.
type fakeRenderer struct {
	mu          sync.Mutex
	redrawAlls  int
	rows        map[string]string
	removedKeys []string
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{rows: make(map[string]string)}
}

func (r *fakeRenderer) RedrawAll(records []domain.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redrawAlls++
	r.rows = make(map[string]string)
	for _, rec := range records {
		r.rows[rec.Key] = string(rec.Payload)
	}
}

func (r *fakeRenderer) RedrawRow(record domain.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[record.Key] = string(record.Payload)
}

func (r *fakeRenderer) RemoveRow(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key)
	r.removedKeys = append(r.removedKeys, key)
}

func (r *fakeRenderer) ShowError(error) {}

func (r *fakeRenderer) redrawAllCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redrawAlls
}

func (r *fakeRenderer) row(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, ok := r.rows[key]
	return payload, ok
}

func startSession(t *testing.T, ctx context.Context, bus *channel.Bus, deps services.SessionDeps, scope string, renderer ports.CollectionRenderer) {
	t.Helper()
	deps.Channel = bus.Open()
	deps.PublishChannel = bus.Open()
	deps.Logger = testLogger()

	session := services.NewSession(services.SessionConfig{
		Coordinator: services.CoordinatorConfig{
			LockName:         "test.push",
			MinRetryInterval: 20 * time.Millisecond,
		},
		Collections: []services.CollectionSpec{
			{EntityType: domain.EntityIncident, Scope: scope, Renderer: renderer},
		},
	}, deps)

	go func() { _ = session.Run(ctx) }()
}

func TestSession_MultiContextScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := channel.NewBus(testLogger())
	registry := lease.NewRegistry()
	transport := newScriptedTransport()

	markerStore, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	fetcher.setCollection(domain.EntityIncident, "2025",
		domain.Record{Key: "1", Payload: json.RawMessage(`{"summary":"gate"}`)})
	fetcher.setCollection(domain.EntityIncident, "2024")

	baseDeps := services.SessionDeps{
		Locker:    registry,
		Marker:    markerStore,
		Transport: transport,
		Fetcher:   fetcher,
	}

	// Three contexts on scope 2025 and one on 2024, all open at once.
	renderers := map[string]*fakeRenderer{
		"a": newFakeRenderer(),
		"b": newFakeRenderer(),
		"c": newFakeRenderer(),
	}
	for _, r := range renderers {
		startSession(t, ctx, bus, baseDeps, "2025", r)
	}
	otherScope := newFakeRenderer()
	startSession(t, ctx, bus, baseDeps, "2024", otherScope)

	// Exactly one context wins coordination and connects.
	select {
	case <-transport.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("no context became the connection holder")
	}
	// Give the losing contexts time to subscribe their reconcilers.
	time.Sleep(50 * time.Millisecond)

	// Fresh profile: the initial-sync frame signals a gap, every open
	// reconciler re-fetches exactly once.
	transport.frames <- domain.Frame{Type: domain.FrameInitial, EventID: "1"}

	require.Eventually(t, func() bool {
		for _, r := range renderers {
			if r.redrawAllCount() != 1 {
				return false
			}
		}
		return otherScope.redrawAllCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "every reconciler reloads on a marker gap")

	// A mutation to incident 42 in scope 2025 patches exactly the
	// contexts displaying that scope.
	fetcher.setEntity(domain.EntityIncident, "2025",
		domain.Record{Key: "42", Payload: json.RawMessage(`{"summary":"fence down"}`)})
	payload, _ := json.Marshal(domain.ChangePayload{Scope: "2025", EntityKey: "42"})
	transport.frames <- domain.Frame{Type: domain.FrameIncident, EventID: "2", Payload: payload}

	require.Eventually(t, func() bool {
		for _, r := range renderers {
			if _, ok := r.row("42"); !ok {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "all scope-2025 contexts show the new row")

	// The 2024 context ignores the event entirely.
	time.Sleep(50 * time.Millisecond)
	_, ok := otherScope.row("42")
	assert.False(t, ok)
	assert.Equal(t, 1, otherScope.redrawAllCount())

	// The marker followed the stream.
	id, err := markerStore.Read()
	require.NoError(t, err)
	assert.Equal(t, "2", id)
}

func TestSession_HolderHandoffWithoutSpuriousReload(t *testing.T) {
	bus := channel.NewBus(testLogger())
	registry := lease.NewRegistry()

	markerStore, err := marker.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fetcher := newFakeFetcher()
	fetcher.setCollection(domain.EntityIncident, "2025")

	transportA := newScriptedTransport()
	transportB := newScriptedTransport()

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()

	rendererA := newFakeRenderer()
	rendererB := newFakeRenderer()

	depsA := services.SessionDeps{Locker: registry, Marker: markerStore, Transport: transportA, Fetcher: fetcher}
	depsB := services.SessionDeps{Locker: registry, Marker: markerStore, Transport: transportB, Fetcher: fetcher}

	startSession(t, ctxA, bus, depsA, "2025", rendererA)

	// Let A win before B shows up.
	select {
	case <-transportA.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("first context never connected")
	}

	startSession(t, ctxB, bus, depsB, "2025", rendererB)
	time.Sleep(50 * time.Millisecond)

	transportA.frames <- domain.Frame{Type: domain.FrameInitial, EventID: "5"}
	require.Eventually(t, func() bool {
		return rendererB.redrawAllCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The holder's tab closes. B takes over within a retry interval.
	cancelA()
	select {
	case <-transportB.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("surviving context did not take over the lease")
	}

	// Reconnect at the same stream position: the marker makes the
	// initial-sync frame a no-op instead of a second full reload.
	transportB.frames <- domain.Frame{Type: domain.FrameInitial, EventID: "5"}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rendererB.redrawAllCount(), "no spurious reload when nothing was missed")
}
