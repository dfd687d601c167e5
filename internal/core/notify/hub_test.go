package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(nil)
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(Delta{Type: "call_initiated", CallID: "call-1"})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case msg := <-sub.C:
			var d Delta
			require.NoError(t, json.Unmarshal(msg, &d))
			assert.Equal(t, "call_initiated", d.Type)
			assert.Equal(t, "call-1", d.CallID)
			assert.False(t, d.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive delta")
		}
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	types := []string{"call_initiated", "call_answered", "call_ended"}
	for _, typ := range types {
		h.Publish(Delta{Type: typ, CallID: "call-1"})
	}

	for _, want := range types {
		msg := <-sub.C
		var d Delta
		require.NoError(t, json.Unmarshal(msg, &d))
		assert.Equal(t, want, d.Type)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(nil)
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	// Nobody drains: the overflow past each subscriber's buffer must be
	// dropped, never block the publisher.
	const overflow = 10
	total := subscriberBuffer + overflow
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			h.Publish(Delta{Type: "call_ended", CallID: "call-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on saturated subscribers")
	}

	assert.Equal(t, uint64(2*overflow), h.Dropped())
	assert.Len(t, a.C, subscriberBuffer)
	assert.Len(t, b.C, subscriberBuffer)

	// The buffered messages are the earliest ones, still readable in order.
	var first Delta
	require.NoError(t, json.Unmarshal(<-a.C, &first))
	assert.Equal(t, "call_ended", first.Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.Subscribers())

	_, open := <-sub.C
	assert.False(t, open)

	// Double unsubscribe must not panic.
	h.Unsubscribe(sub)
}

func TestRelayedDeltaFromOwnOriginIsSkipped(t *testing.T) {
	h := NewHub(nil)
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	own, err := json.Marshal(Delta{Type: "call_ended", OriginID: h.originID})
	require.NoError(t, err)
	h.onRelayed(string(own))

	other, err := json.Marshal(Delta{Type: "call_ended", CallID: "remote", OriginID: "other-pod"})
	require.NoError(t, err)
	h.onRelayed(string(other))

	select {
	case msg := <-sub.C:
		var d Delta
		require.NoError(t, json.Unmarshal(msg, &d))
		assert.Equal(t, "remote", d.CallID)
	case <-time.After(time.Second):
		t.Fatal("relayed delta not delivered")
	}

	select {
	case <-sub.C:
		t.Fatal("own-origin delta must not be re-broadcast")
	default:
	}
}
