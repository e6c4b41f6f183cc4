package timeline

import (
	"sync"

	"github.com/technosupport/camguard/internal/metrics"
)

const mailboxSize = 64

// Subscriber is one live listener on the event stream. Its mailbox is
// bounded: fall behind by more than mailboxSize messages and the hub drops
// you rather than backpressure the logger.
type Subscriber struct {
	ch   chan []byte
	once sync.Once
}

// C yields serialized events. The channel closes when the subscriber is
// unsubscribed or dropped.
func (s *Subscriber) C() <-chan []byte {
	return s.ch
}

func (s *Subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans events out to all current subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan []byte, mailboxSize)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	metrics.WSSubscribers.Inc()
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, present := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()
	if present {
		s.close()
		metrics.WSSubscribers.Dec()
	}
}

// Broadcast delivers msg to every subscriber without blocking. Slow
// subscribers are unsubscribed mid-fanout; the loop continues.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		select {
		case s.ch <- msg:
		default:
			metrics.WSDropped.Inc()
			h.Unsubscribe(s)
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
