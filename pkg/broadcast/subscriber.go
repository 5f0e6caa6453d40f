package broadcast

import (
	"context"
	"sync"

	"github.com/baaaht/murmur/pkg/types"
)

// ErrSubscriptionClosed is returned by Next once a closed subscription
// has handed out everything left in its queue.
var ErrSubscriptionClosed = types.NewError(types.ErrCodeUnavailable, "subscription closed")

// Subscriber is one member's view of the hub: a bounded FIFO of lines
// waiting to be written to it. When the queue is full the oldest line
// is discarded to make room, so a slow member only ever loses its own
// backlog and never slows the publisher.
type Subscriber struct {
	id string

	mu      sync.Mutex
	ring    []string
	head    int
	count   int
	closed  bool
	dropped uint64

	notify chan struct{}
}

func newSubscriber(id string, capacity int) *Subscriber {
	return &Subscriber{
		id:     id,
		ring:   make([]string, capacity),
		notify: make(chan struct{}, 1),
	}
}

// ID returns the subscriber's identity within its hub.
func (s *Subscriber) ID() string {
	return s.id
}

// push enqueues line and reports whether an older line was dropped to
// make room. Pushing to a closed subscriber is a no-op.
func (s *Subscriber) push(line string) (delivered, dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, false
	}

	if s.count == len(s.ring) {
		s.ring[s.head] = ""
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.dropped++
		dropped = true
	}
	s.ring[(s.head+s.count)%len(s.ring)] = line
	s.count++
	s.mu.Unlock()

	s.wake()
	return true, dropped
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a line is available and returns it. After the
// subscription is closed the remaining backlog is still returned, then
// ErrSubscriptionClosed.
func (s *Subscriber) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			line := s.ring[s.head]
			s.ring[s.head] = ""
			s.head = (s.head + 1) % len(s.ring)
			s.count--
			s.mu.Unlock()
			return line, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return "", ErrSubscriptionClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Dropped returns how many lines this subscriber lost to overflow.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Len returns the number of queued lines.
func (s *Subscriber) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}
