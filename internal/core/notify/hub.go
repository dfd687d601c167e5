package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dialverse/call-gateway/pkg/logger"
	redissvc "github.com/dialverse/call-gateway/pkg/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Delta is one real-time update fanned out to connected clients. Type names
// match what the frontend switches on: call_initiated, call_answered,
// call_ended, call_hold, call_resumed, recording_started, recording_added,
// recording_deleted, log_updated, log_deleted, machine_detection.
type Delta struct {
	Type      string      `json:"type"`
	CallID    string      `json:"call_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	// OriginID identifies the publishing process so relayed deltas are not
	// re-broadcast by their origin.
	OriginID string `json:"origin_id,omitempty"`
}

// Subscriber is one attached client. Deltas arrive on C already serialized;
// a subscriber that stops draining gets dropped messages, never a stalled hub.
type Subscriber struct {
	C  chan []byte
	id string
}

const subscriberBuffer = 64

// relayChannel is the Redis channel deltas are mirrored on so every pod
// reaches every client.
const relayChannel = "callgw:deltas"

// Hub fans deltas out to local subscribers and, when Redis is configured,
// relays them across pods.
type Hub struct {
	originID string
	redis    redissvc.RedisServiceInterface

	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	dropped uint64
}

// NewHub creates a hub. redis may be nil for single-pod deployments.
func NewHub(redis redissvc.RedisServiceInterface) *Hub {
	h := &Hub{
		originID: uuid.New().String(),
		redis:    redis,
		subs:     make(map[*Subscriber]struct{}),
	}
	if redis != nil {
		if err := redis.Subscribe(context.Background(), relayChannel, h.onRelayed); err != nil {
			logger.Base().Error("Failed to subscribe to delta relay channel", zap.Error(err))
		}
	}
	return h
}

// Subscribe attaches a new client.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		C:  make(chan []byte, subscriberBuffer),
		id: uuid.New().String(),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	logger.Base().Debug("Delta subscriber attached", zap.Int("subscribers", n))
	return s
}

// Unsubscribe detaches a client and closes its channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.C)
	}
	h.mu.Unlock()
}

// Publish fans a delta out to local subscribers and mirrors it to the relay
// channel. Ordering is preserved per publisher; a slow subscriber loses
// messages rather than delaying the rest.
func (h *Hub) Publish(d Delta) {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	d.OriginID = h.originID

	data, err := json.Marshal(d)
	if err != nil {
		logger.Base().Error("Failed to marshal delta", zap.Error(err))
		return
	}

	h.deliver(data)

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.redis.Publish(ctx, relayChannel, d); err != nil {
			logger.Base().Error("Failed to relay delta", zap.Error(err))
		}
	}
}

func (h *Hub) deliver(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.C <- data:
		default:
			h.dropped++
		}
	}
}

// onRelayed handles a delta mirrored from another pod.
func (h *Hub) onRelayed(payload string) {
	var d Delta
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		logger.Base().Debug("Dropping unreadable relayed delta", zap.Error(err))
		return
	}
	if d.OriginID == h.originID {
		return
	}
	h.deliver([]byte(payload))
}

// Subscribers returns the current local subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many messages were discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
