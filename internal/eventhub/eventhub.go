// Package eventhub implements the single-producer / multi-consumer
// broadcast of target-originated byte frames described by spec component
// C1: every subscriber with a matching filter receives every frame, in
// publish order, or drops the oldest queued frame if its queue is full.
// Grounded on the teacher's replayBuffer (internal/egg/server.go) for the
// "readers must never stall the writer" shape, reworked from cursor-based
// replay into per-subscriber channels since frames here are not an
// append-only log a late joiner can seek into.
package eventhub

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the bounded capacity of a subscriber's queue absent
// an explicit override, per spec §4.1.
const DefaultQueueSize = 1024

// Filter decides whether a subscriber wants a given frame.
type Filter func(frame []byte) bool

// AcceptAll is the zero-value filter: every frame is delivered.
func AcceptAll(_ []byte) bool { return true }

// Subscription is the receiver half returned by Subscribe. Frames arrive on
// C; the hub closes C when the hub itself is closed or the subscriber is
// evicted. Unsubscribe releases the subscriber's slot in the hub.
type Subscription struct {
	ID          uuid.UUID
	C           <-chan []byte
	hub         *Hub
	unsubscribe sync.Once
}

// Unsubscribe detaches the subscription from the hub. Safe to call more
// than once and safe to call after the hub has closed.
func (s *Subscription) Unsubscribe() {
	s.unsubscribe.Do(func() {
		s.hub.remove(s.ID)
	})
}

type subscriber struct {
	filter Filter
	queue  chan []byte
}

// Hub is a broadcast point for raw target-originated bytes. The zero value
// is not usable; construct with New.
type Hub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*subscriber
	closed bool
}

// New constructs an empty, open Hub.
func New() *Hub {
	return &Hub{subs: make(map[uuid.UUID]*subscriber)}
}

// Subscribe allocates a bounded queue of the given size (DefaultQueueSize
// if size <= 0) gated by filter (AcceptAll if filter is nil). If the hub is
// already closed, the returned Subscription's channel is immediately
// closed, observed by the caller as end-of-stream.
func (h *Hub) Subscribe(filter Filter, size int) *Subscription {
	if filter == nil {
		filter = AcceptAll
	}
	if size <= 0 {
		size = DefaultQueueSize
	}

	id := uuid.New()
	q := make(chan []byte, size)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(q)
		return &Subscription{ID: id, C: q, hub: h}
	}
	h.subs[id] = &subscriber{filter: filter, queue: q}
	h.mu.Unlock()

	return &Subscription{ID: id, C: q, hub: h}
}

// Send delivers frame to every subscriber whose filter accepts it. Send
// never blocks and never errors: a subscriber whose queue is full has its
// oldest queued frame dropped to make room, per spec's drop-oldest choice
// for interactive paths (see design notes: evict-subscriber is reserved for
// offline consumers such as a disconnected recorder, handled by the
// recorder's own writer goroutine exiting, not by the hub).
func (h *Hub) Send(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	for _, sub := range h.subs {
		if !sub.filter(frame) {
			continue
		}
		select {
		case sub.queue <- frame:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- frame:
			default:
			}
		}
	}
}

// Close marks the hub terminal and closes every current subscriber's
// queue. Subscribers that call Subscribe afterward observe an immediate
// end-of-stream, per spec §4.1.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.queue)
		delete(h.subs, id)
	}
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.queue)
}

// SubscriberCount reports the number of live subscribers, for tests and
// operator diagnostics.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
