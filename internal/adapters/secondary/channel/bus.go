package channel

import (
	"log/slog"
	"sync"

	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// subscriberBuffer is the per-subscription queue depth. A subscriber that
// falls this far behind has its overflow coalesced into one pending bulk
// invalidation, delivered as soon as it works through the queue.
const subscriberBuffer = 64

// Bus is the in-process cross-context channel. Each browsing context opens
// one Endpoint; publishing on an endpoint delivers to every other endpoint
// subscribed to the topic, never back to the publisher.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[*Endpoint]struct{}
	logger    *slog.Logger
}

// NewBus creates an empty cross-context channel.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		endpoints: make(map[*Endpoint]struct{}),
		logger:    logger.With("component", "cross_context_channel"),
	}
}

// Open attaches a new browsing context to the bus.
func (b *Bus) Open() *Endpoint {
	ep := &Endpoint{
		bus:  b,
		subs: make(map[domain.Topic][]*subscription),
	}
	b.mu.Lock()
	b.endpoints[ep] = struct{}{}
	b.mu.Unlock()
	return ep
}

// EndpointCount returns the number of attached contexts.
func (b *Bus) EndpointCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.endpoints)
}

func (b *Bus) publish(from *Endpoint, topic domain.Topic, event domain.ChangeEvent) {
	b.mu.RLock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for ep := range b.endpoints {
		if ep != from {
			targets = append(targets, ep)
		}
	}
	b.mu.RUnlock()

	for _, ep := range targets {
		ep.deliver(topic, event)
	}
}

func (b *Bus) detach(ep *Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, ep)
	b.mu.Unlock()
}

var _ ports.ContextChannel = (*Endpoint)(nil)

// Endpoint is one context's handle on the bus.
type Endpoint struct {
	bus    *Bus
	mu     sync.Mutex
	subs   map[domain.Topic][]*subscription
	closed bool
}

type subscription struct {
	handler ports.ChangeHandler
	queue   chan domain.ChangeEvent
	done    chan struct{}
	once    sync.Once

	// pending holds at most one bulk invalidation coalesced from queue
	// overflow, delivered ahead of further queued events.
	pendingMu sync.Mutex
	pending   *domain.ChangeEvent
}

// Publish fans event out to every other endpoint subscribed to topic. The
// published value must not be mutated afterwards; ownership transfers here.
func (e *Endpoint) Publish(topic domain.Topic, event domain.ChangeEvent) {
	e.bus.publish(e, topic, event)
}

// Subscribe registers handler for topic. Each subscription drains its own
// ordered queue, so delivery order matches publish order per topic.
func (e *Endpoint) Subscribe(topic domain.Topic, handler ports.ChangeHandler) func() {
	sub := &subscription{
		handler: handler,
		queue:   make(chan domain.ChangeEvent, subscriberBuffer),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	e.subs[topic] = append(e.subs[topic], sub)
	e.mu.Unlock()

	go sub.run()

	return func() {
		e.mu.Lock()
		subs := e.subs[topic]
		for i, s := range subs {
			if s == sub {
				e.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		sub.stop()
	}
}

// Close detaches the endpoint and cancels its subscriptions. A closed
// endpoint neither sends nor receives.
func (e *Endpoint) Close() {
	e.bus.detach(e)

	e.mu.Lock()
	e.closed = true
	subs := e.subs
	e.subs = make(map[domain.Topic][]*subscription)
	e.mu.Unlock()

	for _, topicSubs := range subs {
		for _, sub := range topicSubs {
			sub.stop()
		}
	}
}

func (e *Endpoint) deliver(topic domain.Topic, event domain.ChangeEvent) {
	e.mu.Lock()
	subs := make([]*subscription, len(e.subs[topic]))
	copy(subs, e.subs[topic])
	e.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.queue <- event:
		default:
			// Losing a row update would leave the view stale until
			// some unrelated reload, so every overflow escalates to
			// a single pending bulk invalidation instead.
			sub.coalesceOverflow(event)
			e.bus.logger.Warn("subscriber queue full, coalescing into bulk invalidation",
				"topic", topic,
				"event_id", event.EventID,
			)
		}
	}
}

func (s *subscription) coalesceOverflow(event domain.ChangeEvent) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending = &domain.ChangeEvent{
		EntityType:       event.EntityType,
		EventID:          event.EventID,
		BulkInvalidation: true,
	}
}

func (s *subscription) takePending() (domain.ChangeEvent, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == nil {
		return domain.ChangeEvent{}, false
	}
	event := *s.pending
	s.pending = nil
	return event, true
}

func (s *subscription) run() {
	for {
		select {
		case event := <-s.queue:
			s.handler(event)
			// Overflow can only happen while the queue is full, so
			// the coalesced invalidation is always delivered after
			// one of the already-queued events, never left waiting
			// for a future publish.
			if pending, ok := s.takePending(); ok {
				s.handler(pending)
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
