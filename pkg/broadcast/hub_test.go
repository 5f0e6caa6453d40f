package broadcast

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baaaht/murmur/internal/logger"
	"github.com/baaaht/murmur/pkg/types"
)

func newTestHub(t *testing.T, queueSize int) *Hub {
	t.Helper()
	h, err := NewHub(queueSize, logger.Discard())
	require.NoError(t, err)
	return h
}

func next(t *testing.T, s *Subscriber) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	line, err := s.Next(ctx)
	require.NoError(t, err)
	return line
}

func TestNewHubRejectsEmptyQueue(t *testing.T) {
	_, err := NewHub(0, logger.Discard())
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))
}

func TestHubDeliversInOrder(t *testing.T) {
	h := newTestHub(t, 16)
	a, err := h.Subscribe("a")
	require.NoError(t, err)
	b, err := h.Subscribe("b")
	require.NoError(t, err)

	for _, line := range []string{"1", "2", "3"} {
		assert.Equal(t, 2, h.Publish(Message{Origin: LocalOrigin, Line: line}))
	}

	for _, s := range []*Subscriber{a, b} {
		assert.Equal(t, []string{"1", "2", "3"}, []string{next(t, s), next(t, s), next(t, s)})
	}
}

func TestHubSkipsOrigin(t *testing.T) {
	h := newTestHub(t, 16)
	a, err := h.Subscribe("a")
	require.NoError(t, err)
	b, err := h.Subscribe("b")
	require.NoError(t, err)

	assert.Equal(t, 1, h.Publish(Message{Origin: "a", Line: "from a"}))
	assert.Equal(t, "from a", next(t, b))
	assert.Zero(t, a.Len())
}

func TestHubLateSubscriberMissesEarlierLines(t *testing.T) {
	h := newTestHub(t, 16)
	h.Publish(Message{Origin: LocalOrigin, Line: "early"})

	late, err := h.Subscribe("late")
	require.NoError(t, err)
	h.Publish(Message{Origin: LocalOrigin, Line: "later"})

	assert.Equal(t, "later", next(t, late))
	assert.Zero(t, late.Len())
}

func TestHubDropsOldestForSlowSubscriberOnly(t *testing.T) {
	h := newTestHub(t, 2)
	slow, err := h.Subscribe("slow")
	require.NoError(t, err)
	fast, err := h.Subscribe("fast")
	require.NoError(t, err)

	var fastGot []string
	for i := 1; i <= 5; i++ {
		h.Publish(Message{Origin: LocalOrigin, Line: strconv.Itoa(i)})
		fastGot = append(fastGot, next(t, fast))
	}

	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, fastGot)
	assert.Equal(t, uint64(0), fast.Dropped())

	assert.Equal(t, uint64(3), slow.Dropped())
	assert.Equal(t, []string{"4", "5"}, []string{next(t, slow), next(t, slow)})

	stats := h.Stats()
	assert.Equal(t, HubStats{Subscribers: 2, Published: 5, Delivered: 10, Dropped: 3}, stats)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	h := newTestHub(t, 4)
	for i := range 8 {
		_, err := h.Subscribe(strconv.Itoa(i))
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10_000 {
			h.Publish(Message{Origin: LocalOrigin, Line: strconv.Itoa(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on subscribers that never read")
	}
	assert.Equal(t, uint64(8*(10_000-4)), h.Stats().Dropped)
}

func TestHubUnsubscribe(t *testing.T) {
	h := newTestHub(t, 1)
	s, err := h.Subscribe("gone")
	require.NoError(t, err)
	h.Publish(Message{Origin: LocalOrigin, Line: "x"})
	h.Publish(Message{Origin: LocalOrigin, Line: "y"})

	h.Unsubscribe("gone")
	h.Unsubscribe("gone")
	h.Unsubscribe("never-there")

	assert.Zero(t, h.Publish(Message{Origin: LocalOrigin, Line: "z"}))
	stats := h.Stats()
	assert.Zero(t, stats.Subscribers)
	assert.Equal(t, uint64(1), stats.Dropped, "drops of departed subscribers are kept")

	assert.Equal(t, "y", next(t, s))
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestHubDuplicateSubscriber(t *testing.T) {
	h := newTestHub(t, 1)
	_, err := h.Subscribe("dup")
	require.NoError(t, err)

	_, err = h.Subscribe("dup")
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalid))
}

func TestHubCloseDrainsThenEnds(t *testing.T) {
	h := newTestHub(t, 8)
	s, err := h.Subscribe("s")
	require.NoError(t, err)
	h.Publish(Message{Origin: LocalOrigin, Line: "last"})

	h.Close()
	h.Close()

	assert.Zero(t, h.Publish(Message{Origin: LocalOrigin, Line: "after close"}))
	assert.Equal(t, "last", next(t, s))
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	_, err = h.Subscribe("new")
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))
}

func TestSubscriberNextHonorsContext(t *testing.T) {
	h := newTestHub(t, 8)
	s, err := h.Subscribe("idle")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriberWakesOnPublish(t *testing.T) {
	h := newTestHub(t, 8)
	s, err := h.Subscribe("waiting")
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		line, err := s.Next(context.Background())
		if err == nil {
			got <- line
		}
	}()

	time.Sleep(10 * time.Millisecond)
	h.Publish(Message{Origin: LocalOrigin, Line: "wake"})

	select {
	case line := <-got:
		assert.Equal(t, "wake", line)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never woke")
	}
}

func TestHubStatsString(t *testing.T) {
	s := HubStats{Subscribers: 2, Published: 5, Delivered: 9, Dropped: 1}
	assert.Equal(t, "HubStats{Subscribers: 2, Published: 5, Delivered: 9, Dropped: 1}", s.String())
}
