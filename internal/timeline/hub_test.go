package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastReachesSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Broadcast([]byte("hello"))

	for _, sub := range []*Subscriber{a, b} {
		select {
		case msg := <-sub.C():
			assert.Equal(t, "hello", string(msg))
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer h.Unsubscribe(fast)

	// Fill the slow mailbox without draining it, then one more.
	for i := 0; i <= mailboxSize; i++ {
		h.Broadcast([]byte("x"))
		// Keep the fast subscriber drained so only slow overflows.
		select {
		case <-fast.C():
		default:
		}
	}

	assert.Equal(t, 1, h.SubscriberCount())

	// The dropped subscriber's channel is closed after its buffer drains.
	drained := 0
	for range slow.C() {
		drained++
	}
	assert.Equal(t, mailboxSize, drained)
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	h := NewHub()
	s := h.Subscribe()
	h.Unsubscribe(s)
	h.Unsubscribe(s)
	assert.Equal(t, 0, h.SubscriberCount())

	_, open := <-s.C()
	require.False(t, open)
}

func TestHub_BroadcastWithNoSubscribers(t *testing.T) {
	h := NewHub()
	h.Broadcast([]byte("nobody home"))
}
