package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCapacityInvariant(t *testing.T) {
	s := NewService(3, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		require.True(t, s.Enqueue("events", string(rune('a'+i))), "enqueue %d should fit", i)
	}

	start := time.Now()
	ok := s.Enqueue("events", "overflow")
	elapsed := time.Since(start)

	assert.False(t, ok, "enqueue into a full queue must return false")
	assert.Less(t, elapsed, 500*time.Millisecond, "full-queue offer must not block past its timeout")

	// The first C messages come back in FIFO order.
	for i := 0; i < 3; i++ {
		msg, ok := s.Dequeue("events", 50*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, string(rune('a'+i)), msg)
	}

	_, ok = s.Dequeue("events", 20*time.Millisecond)
	assert.False(t, ok, "drained queue should time out")
}

func TestQueueLazyCreationAndIntrospection(t *testing.T) {
	s := NewService(10, time.Second)

	assert.Equal(t, 0, s.Size("unseen"))
	assert.Empty(t, s.QueueNames())

	require.True(t, s.Enqueue("events", "m1"))
	require.True(t, s.Enqueue("responses", "m2"))

	assert.Equal(t, 1, s.Size("events"))
	assert.Equal(t, 10, s.Capacity())
	assert.ElementsMatch(t, []string{"events", "responses"}, s.QueueNames())
}

func TestQueueShutdownFailsFast(t *testing.T) {
	s := NewService(5, time.Second)
	require.True(t, s.Enqueue("events", "m1"))

	s.Shutdown()

	start := time.Now()
	assert.False(t, s.Enqueue("events", "m2"), "post-shutdown enqueue must fail")
	assert.Less(t, time.Since(start), 200*time.Millisecond, "post-shutdown enqueue must fail fast")

	_, ok := s.Dequeue("events", time.Second)
	assert.False(t, ok, "post-shutdown dequeue must return nothing")

	// Shutdown is idempotent.
	s.Shutdown()
}

func TestDequeueBlocksUntilMessage(t *testing.T) {
	s := NewService(5, time.Second)

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.Enqueue("events", "late")
	}()

	msg, ok := s.Dequeue("events", time.Second)
	require.True(t, ok)
	assert.Equal(t, "late", msg)
}
