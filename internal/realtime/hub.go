package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/PaulBabatuyi/nearchat/internal/metrics"
)

// DefaultQueueSize is the per-subscription event buffer used when NewHub gets 0.
const DefaultQueueSize = 16

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("realtime: hub closed")

// Hub is an in-process Channel. Each subscription owns a delivery goroutine and a
// bounded queue so a slow handler never blocks publishers or other subscribers.
type Hub struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	queueSize int
	closed    bool
}

type subscriber struct {
	filter   Filter
	handler  Handler
	events   chan Event
	done     chan struct{}
	overflow chan struct{}
	onDrop   func()
}

// NewHub creates a hub whose subscriptions buffer up to queueSize events.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{subs: make(map[int64]*subscriber), queueSize: queueSize}
}

// Subscribe registers h for events matching f and returns the subscription id which
// should be passed to Unsubscribe when the consumer is torn down.
func (h *Hub) Subscribe(ctx context.Context, f Filter, handler Handler) (int64, error) {
	return h.SubscribeOverflow(ctx, f, handler, nil)
}

// SubscribeOverflow is Subscribe for consumers that act on individual events rather
// than refetching. onDrop runs on the delivery goroutine after one or more events for
// this subscription were dropped on a full queue.
func (h *Hub) SubscribeOverflow(_ context.Context, f Filter, handler Handler, onDrop func()) (int64, error) {
	if handler == nil {
		return 0, errors.New("realtime: nil handler")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrHubClosed
	}

	h.nextID++
	id := h.nextID
	s := &subscriber{
		filter:   f,
		handler:  handler,
		events:   make(chan Event, h.queueSize),
		done:     make(chan struct{}),
		overflow: make(chan struct{}, 1),
		onDrop:   onDrop,
	}
	h.subs[id] = s
	go s.run()
	metrics.Subscriptions.Inc()
	return id, nil
}

// Unsubscribe removes a subscription. Events already queued are discarded.
// Unknown ids are ignored.
func (h *Hub) Unsubscribe(_ context.Context, id int64) error {
	h.mu.Lock()
	s, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if ok {
		s.stop()
		metrics.Subscriptions.Dec()
	}
	return nil
}

// Publish hands e to every matching subscription without blocking. A full queue
// drops the event. Refetching consumers still have a pending event whose re-fetch
// observes this change; the others are told through their onDrop callback.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	metrics.EventsPublished.WithLabelValues(e.Table, string(e.Type)).Inc()
	// Fan out to matching subscriptions, never waiting on a handler
	for _, s := range h.subs {
		if !s.filter.Matches(e) {
			continue
		}
		select {
		case s.events <- e:
		default:
			metrics.EventsDropped.Inc()
			// coalesce: one pending signal covers any number of drops
			select {
			case s.overflow <- struct{}{}:
			default:
			}
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops all subscriptions. Further publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int64]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for range subs {
		metrics.Subscriptions.Dec()
	}
	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) run() {
	for {
		select {
		case e := <-s.events:
			// stop wins over queued events after Unsubscribe
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(e)
		case <-s.overflow:
			if s.onDrop != nil {
				s.onDrop()
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	close(s.done)
}
