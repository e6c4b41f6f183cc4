package timeline

import (
	"sync"

	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/metrics"
)

// Ring is a bounded FIFO over timeline events awaiting warehouse flush.
// When full, the oldest event is dropped; flushing is strictly best-effort.
type Ring struct {
	mu      sync.Mutex
	buf     []*data.TimelineEvent
	head    int
	size    int
	cap     int
	dropped uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Ring{buf: make([]*data.TimelineEvent, capacity), cap: capacity}
}

func (r *Ring) Push(ev *data.TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.cap {
		// Overwrite the oldest slot.
		r.head = (r.head + 1) % r.cap
		r.size--
		r.dropped++
		metrics.TimelineDropped.Inc()
	}
	r.buf[(r.head+r.size)%r.cap] = ev
	r.size++
}

// Drain removes and returns all buffered events, oldest first.
func (r *Ring) Drain() []*data.TimelineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*data.TimelineEvent, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.head+i)%r.cap])
	}
	r.head = 0
	r.size = 0
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped reports how many events were lost to overflow since start.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
