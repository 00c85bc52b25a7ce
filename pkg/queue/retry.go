package queue

import (
	"crypto/md5" //nolint:gosec // MD5 keys retry bookkeeping, not cryptography
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
)

// ErrRequeueFailed is the synthetic cause used when a scheduled re-enqueue
// cannot offer the message back to its queue.
var ErrRequeueFailed = fmt.Errorf("retry re-enqueue failed: queue full or shut down")

// RetryPolicy configures retry behavior for failed messages.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
}

// DefaultRetryPolicy mirrors the engine defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Exponential: true,
	}
}

// DeadLetterAudit receives dead-letter notifications for durable audit
// recording. Implementations must not block for long.
type DeadLetterAudit interface {
	RecordDeadLetter(queue, message, cause string)
}

// RetryHandler tracks per-message retry attempts keyed by content hash,
// schedules delayed re-enqueues with exponential backoff, and escalates
// exhausted messages to the queue's dead-letter queue. Attempt counters are
// in-memory only; a process restart resets them.
type RetryHandler struct {
	logger  *logx.Logger
	queues  *Service
	policy  RetryPolicy
	metrics *metrics.Recorder
	audit   DeadLetterAudit

	mu       sync.Mutex
	attempts map[string]int
}

// NewRetryHandler creates a retry handler over the given queue service.
// recorder and audit may be nil.
func NewRetryHandler(queues *Service, policy RetryPolicy, recorder *metrics.Recorder, audit DeadLetterAudit) *RetryHandler {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = DefaultRetryPolicy().MaxDelay
	}
	return &RetryHandler{
		logger:   logx.NewLogger("retry"),
		queues:   queues,
		policy:   policy,
		metrics:  recorder,
		audit:    audit,
		attempts: make(map[string]int),
	}
}

func contentHash(message string) string {
	sum := md5.Sum([]byte(message)) //nolint:gosec // Stable content key, not cryptography
	return hex.EncodeToString(sum[:])
}

// HandleFailedMessage records a failure for the message and either schedules
// a delayed re-enqueue (returning true) or, once the attempt cap is reached,
// moves the message to the dead-letter queue and clears its counter
// (returning false). Dead-letter moves are best-effort and never propagate.
func (h *RetryHandler) HandleFailedMessage(queueName, message string, cause error) bool {
	key := contentHash(message)

	h.mu.Lock()
	attempt := h.attempts[key] + 1
	if attempt >= h.policy.MaxAttempts {
		delete(h.attempts, key)
		h.mu.Unlock()

		h.logger.Warn("Message on %s exhausted %d attempts, dead-lettering: %v", queueName, attempt, cause)
		h.moveToDeadLetter(queueName, message, cause)
		return false
	}
	h.attempts[key] = attempt
	h.mu.Unlock()

	delay := h.Delay(attempt)
	h.logger.Info("Retrying message on %s in %v (attempt %d/%d): %v", queueName, delay, attempt, h.policy.MaxAttempts, cause)
	h.metrics.IncRetry(queueName)

	time.AfterFunc(delay, func() {
		if !h.queues.Enqueue(queueName, message) {
			// The re-enqueue itself failed; feed it back through the same
			// failure path with a synthetic cause.
			h.HandleFailedMessage(queueName, message, ErrRequeueFailed)
		}
	})
	return true
}

// MarkSuccess clears the retry counter for a message that finally succeeded.
func (h *RetryHandler) MarkSuccess(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.attempts, contentHash(message))
}

// Attempts returns the tracked attempt count for a message (0 if untracked).
func (h *RetryHandler) Attempts(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts[contentHash(message)]
}

// Delay computes the backoff delay for the given attempt number (1-based).
func (h *RetryHandler) Delay(attempt int) time.Duration {
	if !h.policy.Exponential {
		return h.policy.BaseDelay
	}
	delay := h.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= h.policy.MaxDelay {
			return h.policy.MaxDelay
		}
	}
	if delay > h.policy.MaxDelay {
		return h.policy.MaxDelay
	}
	return delay
}

// DeadLetterEnvelope builds the flat pipe-delimited dead-letter envelope.
// The shape is load-bearing for downstream DLQ consumers; do not change it.
func DeadLetterEnvelope(originalQueue, errMessage string, timestamp time.Time, body string) string {
	return fmt.Sprintf("DEAD_LETTER|originalQueue=%s|error=%s|timestamp=%d|message=%s",
		originalQueue, errMessage, timestamp.UnixMilli(), body)
}

func (h *RetryHandler) moveToDeadLetter(queueName, message string, cause error) {
	envelope := DeadLetterEnvelope(queueName, cause.Error(), time.Now(), message)

	if !h.queues.Enqueue(queueName+DeadLetterSuffix, envelope) {
		h.logger.Error("Failed to enqueue dead letter for %s (message dropped)", queueName)
		return
	}

	h.metrics.IncDeadLetter(queueName)
	if h.audit != nil {
		h.audit.RecordDeadLetter(queueName, message, cause.Error())
	}
}
