package mocks

import (
	"context"
	"sync"

	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/core/ports"
	"github.com/stretchr/testify/mock"
)

// MockMarkerStore is a mock implementation of ports.MarkerStore
type MockMarkerStore struct {
	mock.Mock
}

func NewMockMarkerStore() *MockMarkerStore {
	return &MockMarkerStore{}
}

func (m *MockMarkerStore) Read() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockMarkerStore) Write(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockEntityFetcher is a mock implementation of ports.EntityFetcher
type MockEntityFetcher struct {
	mock.Mock
}

func NewMockEntityFetcher() *MockEntityFetcher {
	return &MockEntityFetcher{}
}

func (m *MockEntityFetcher) FetchCollection(ctx context.Context, entityType domain.EntityType, scope string) ([]domain.Record, error) {
	args := m.Called(ctx, entityType, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Record), args.Error(1)
}

func (m *MockEntityFetcher) FetchEntity(ctx context.Context, entityType domain.EntityType, scope, key string) (domain.Record, error) {
	args := m.Called(ctx, entityType, scope, key)
	if args.Get(0) == nil {
		return domain.Record{}, args.Error(1)
	}
	return args.Get(0).(domain.Record), args.Error(1)
}

// MockCollectionRenderer is a mock implementation of ports.CollectionRenderer
type MockCollectionRenderer struct {
	mock.Mock
}

func NewMockCollectionRenderer() *MockCollectionRenderer {
	return &MockCollectionRenderer{}
}

func (m *MockCollectionRenderer) RedrawAll(records []domain.Record) {
	m.Called(records)
}

func (m *MockCollectionRenderer) RedrawRow(record domain.Record) {
	m.Called(record)
}

func (m *MockCollectionRenderer) RemoveRow(key string) {
	m.Called(key)
}

func (m *MockCollectionRenderer) ShowError(err error) {
	m.Called(err)
}

// MockContextChannel records published events with testify and keeps real
// subscription handlers so tests can feed events back through them.
type MockContextChannel struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[domain.Topic][]ports.ChangeHandler
}

func NewMockContextChannel() *MockContextChannel {
	return &MockContextChannel{handlers: make(map[domain.Topic][]ports.ChangeHandler)}
}

func (m *MockContextChannel) Publish(topic domain.Topic, event domain.ChangeEvent) {
	m.Called(topic, event)
}

func (m *MockContextChannel) Subscribe(topic domain.Topic, handler ports.ChangeHandler) func() {
	m.mu.Lock()
	m.handlers[topic] = append(m.handlers[topic], handler)
	m.mu.Unlock()
	return func() {}
}

func (m *MockContextChannel) Close() {}

// Deliver invokes every handler subscribed to the topic, simulating a
// message arriving from another context.
func (m *MockContextChannel) Deliver(topic domain.Topic, event domain.ChangeEvent) {
	m.mu.Lock()
	handlers := append([]ports.ChangeHandler(nil), m.handlers[topic]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(event)
	}
}

// MockStreamTransport is a mock implementation of ports.StreamTransport
type MockStreamTransport struct {
	mock.Mock
}

func NewMockStreamTransport() *MockStreamTransport {
	return &MockStreamTransport{}
}

func (m *MockStreamTransport) Connect(ctx context.Context, onFrame ports.FrameHandler) error {
	args := m.Called(ctx, onFrame)
	return args.Error(0)
}

// MockLocker is a mock implementation of ports.Locker
type MockLocker struct {
	mock.Mock
}

func NewMockLocker() *MockLocker {
	return &MockLocker{}
}

func (m *MockLocker) TryWithLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	args := m.Called(ctx, name, fn)
	return args.Bool(0), args.Error(1)
}
