package broadcast

import (
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/types"
)

// LocalOrigin marks lines that come from the hosting process itself
// rather than from a connected member.
const LocalOrigin = "local"

// Message is one line entering the hub.
type Message struct {
	// Origin identifies the sender; the line is not echoed back to the
	// subscriber with the same ID.
	Origin string
	Line   string
}

// Hub replicates every published line to every current subscriber
// except its origin. Delivery is best-effort: each subscriber has its
// own bounded queue with drop-oldest overflow, and Publish never
// blocks. Membership exists only in memory.
//
// Hub is safe for concurrent use.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	queueSize int
	closed    bool
	logger    *logger.Logger

	published uint64
	delivered uint64
	// retired keeps drop counts of subscribers that already left.
	retired uint64
}

// NewHub creates a hub whose subscribers each buffer up to queueSize lines
func NewHub(queueSize int, log *logger.Logger) (*Hub, error) {
	if queueSize < 1 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, fmt.Sprintf("queue size must be positive, got %d", queueSize))
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}

	return &Hub{
		subs:      make(map[string]*Subscriber),
		queueSize: queueSize,
		logger:    log.With("component", "broadcast_hub"),
	}, nil
}

// Subscribe adds a member. It only receives lines published after it
// joined.
func (h *Hub) Subscribe(id string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, types.NewError(types.ErrCodeUnavailable, "hub is closed")
	}
	if _, exists := h.subs[id]; exists {
		return nil, types.NewError(types.ErrCodeInvalid, fmt.Sprintf("subscriber already exists: %s", id))
	}

	sub := newSubscriber(id, h.queueSize)
	h.subs[id] = sub
	h.logger.Debug("Subscriber added", "subscriber_id", id, "subscribers", len(h.subs))
	return sub, nil
}

// Unsubscribe removes a member and closes its subscription. Unknown IDs
// are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, exists := h.subs[id]
	if !exists {
		return
	}
	delete(h.subs, id)
	sub.close()
	h.retired += sub.Dropped()
	h.logger.Debug("Subscriber removed", "subscriber_id", id, "subscribers", len(h.subs))
}

// Publish queues msg for every subscriber other than its origin and
// returns how many subscribers it was queued for.
func (h *Hub) Publish(msg Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0
	}
	h.published++

	recipients := 0
	for id, sub := range h.subs {
		if id == msg.Origin {
			continue
		}
		delivered, dropped := sub.push(msg.Line)
		if !delivered {
			continue
		}
		recipients++
		if dropped {
			h.logger.Debug("Subscriber queue full, dropped oldest line", "subscriber_id", id)
		}
	}
	h.delivered += uint64(recipients)
	return recipients
}

// Close stops accepting lines and closes every subscription; each
// subscriber can still drain what it had queued.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for _, sub := range h.subs {
		sub.close()
	}
	h.logger.Debug("Hub closed", "subscribers", len(h.subs))
}

// Stats returns hub statistics
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	live := lo.Values(h.subs)
	return HubStats{
		Subscribers: len(live),
		Published:   h.published,
		Delivered:   h.delivered,
		Dropped: h.retired + lo.SumBy(live, func(s *Subscriber) uint64 {
			return s.Dropped()
		}),
	}
}

// HubStats represents hub statistics
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// String returns a string representation of the stats
func (s HubStats) String() string {
	return fmt.Sprintf("HubStats{Subscribers: %d, Published: %d, Delivered: %d, Dropped: %d}",
		s.Subscribers, s.Published, s.Delivered, s.Dropped)
}
