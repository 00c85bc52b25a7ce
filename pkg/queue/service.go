// Package queue implements the in-memory messaging layer: named bounded FIFO
// queues, per-queue consumer worker pools, and retry handling with
// exponential backoff and dead-letter escalation.
package queue

import (
	"sync"
	"time"

	"agentflow/pkg/logx"
)

// DeadLetterSuffix is appended to a queue name to form its dead-letter queue.
const DeadLetterSuffix = ".DLQ"

// Service manages named, bounded, in-memory FIFO queues with blocking
// offer/poll semantics. Queues are created lazily on first access; the
// per-queue channel provides the only synchronization consumers need.
type Service struct {
	logger       *logx.Logger
	capacity     int
	offerTimeout time.Duration

	mu       sync.RWMutex
	queues   map[string]chan string
	done     chan struct{}
	shutdown bool
}

// NewService creates a queue service. Every queue gets the same capacity;
// enqueues give up after offerTimeout when a queue stays full.
func NewService(capacity int, offerTimeout time.Duration) *Service {
	if capacity <= 0 {
		capacity = 100
	}
	if offerTimeout <= 0 {
		offerTimeout = time.Second
	}
	return &Service{
		logger:       logx.NewLogger("queue"),
		capacity:     capacity,
		offerTimeout: offerTimeout,
		queues:       make(map[string]chan string),
		done:         make(chan struct{}),
	}
}

func (s *Service) queue(name string) chan string {
	s.mu.RLock()
	ch, ok := s.queues[name]
	s.mu.RUnlock()
	if ok {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok = s.queues[name]; ok {
		return ch
	}
	ch = make(chan string, s.capacity)
	s.queues[name] = ch
	s.logger.Debug("Created queue %s (capacity %d)", name, s.capacity)
	return ch
}

// Enqueue offers a message to the named queue, waiting up to the configured
// offer timeout when the queue is full. It returns false on timeout or after
// shutdown, never blocking indefinitely.
func (s *Service) Enqueue(name, message string) bool {
	s.mu.RLock()
	closed := s.shutdown
	s.mu.RUnlock()
	if closed {
		return false
	}

	timer := time.NewTimer(s.offerTimeout)
	defer timer.Stop()

	select {
	case s.queue(name) <- message:
		return true
	case <-timer.C:
		s.logger.Warn("Enqueue to %s timed out (queue full)", name)
		return false
	case <-s.done:
		return false
	}
}

// Dequeue blocks up to timeout waiting for a message and reports whether one
// arrived. After shutdown it returns immediately with ok=false.
func (s *Service) Dequeue(name string, timeout time.Duration) (string, bool) {
	s.mu.RLock()
	closed := s.shutdown
	s.mu.RUnlock()
	if closed {
		return "", false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-s.queue(name):
		return msg, true
	case <-timer.C:
		return "", false
	case <-s.done:
		return "", false
	}
}

// Size returns the number of messages currently waiting in the named queue.
func (s *Service) Size(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.queues[name]; ok {
		return len(ch)
	}
	return 0
}

// Capacity returns the configured per-queue capacity.
func (s *Service) Capacity() int {
	return s.capacity
}

// QueueNames returns the names of all queues created so far.
func (s *Service) QueueNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	return names
}

// Shutdown makes all subsequent enqueues and dequeues fail fast. Messages
// already queued are retained in memory but no longer served.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	close(s.done)
	s.logger.Info("Queue service shut down (%d queues)", len(s.queues))
}
