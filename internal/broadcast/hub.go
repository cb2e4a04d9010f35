package broadcast

import (
	"log/slog"
	"sync"

	"github.com/bidroom/auction-engine/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// Hub holds one Topic per tournament. Tournaments never share a lock.
type Hub struct {
	mu         sync.Mutex
	topics     map[string]*Topic
	bufferSize int
}

// NewHub creates a hub whose subscribers buffer up to bufferSize events.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		topics:     make(map[string]*Topic),
		bufferSize: bufferSize,
	}
}

// Topic returns the tournament's topic, creating it on first use.
func (h *Hub) Topic(tournamentID string) *Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[tournamentID]
	if !ok || t.isClosed() {
		t = &Topic{
			id:         tournamentID,
			subs:       make(map[uint64]*Subscription),
			bufferSize: h.bufferSize,
		}
		h.topics[tournamentID] = t
	}
	return t
}

// Publish delivers ev to the tournament's current subscribers.
func (h *Hub) Publish(tournamentID string, ev Event) {
	h.Topic(tournamentID).Publish(ev)
}

// Close ends the tournament's stream: every subscriber channel is closed
// and the topic is dropped.
func (h *Hub) Close(tournamentID string) {
	h.mu.Lock()
	t, ok := h.topics[tournamentID]
	delete(h.topics, tournamentID)
	h.mu.Unlock()
	if ok {
		t.close()
	}
}

// Subscribers returns the number of live subscriptions across all topics.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.topics {
		n += t.Len()
	}
	return n
}

// Topic is one tournament's ordered event channel.
type Topic struct {
	id         string
	bufferSize int

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscribe registers a subscriber whose first event is snapshot. No
// published event can be delivered between the snapshot and the
// subscriber's registration, so the caller must build snapshot under the
// same lock it publishes under.
func (t *Topic) Subscribe(snapshot Event) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub := &Subscription{
		topic: t,
		ch:    make(chan Event, t.bufferSize),
	}
	if t.closed {
		sub.ch <- snapshot
		close(sub.ch)
		sub.done = true
		return sub
	}

	t.nextID++
	sub.id = t.nextID
	sub.ch <- snapshot
	t.subs[sub.id] = sub
	metrics.Subscribers.Inc()
	return sub
}

// Publish enqueues ev for every subscriber. A subscriber whose queue is
// full is evicted and its channel closed; it recovers by resubscribing.
// Publish never blocks on a slow consumer.
func (t *Topic) Publish(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	for id, sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("evicting slow subscriber", "tournament", t.id, "subscriber", id, "seq", ev.Seq)
			t.removeLocked(id)
			metrics.SubscriberEvictions.Inc()
		}
	}
}

// Len returns the number of live subscribers.
func (t *Topic) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *Topic) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Topic) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id := range t.subs {
		t.removeLocked(id)
	}
}

func (t *Topic) removeLocked(id uint64) {
	sub, ok := t.subs[id]
	if !ok {
		return
	}
	delete(t.subs, id)
	if !sub.done {
		sub.done = true
		close(sub.ch)
	}
	metrics.Subscribers.Dec()
}

// Subscription is one subscriber's ordered event queue.
type Subscription struct {
	topic *Topic
	id    uint64
	ch    chan Event
	done  bool // guarded by topic.mu
}

// Events returns the event channel. It is closed when the subscriber is
// evicted, unsubscribes, or the tournament's stream ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	s.topic.removeLocked(s.id)
}
