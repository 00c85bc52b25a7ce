package queue

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []string
}

func (a *recordingAudit) RecordDeadLetter(queue, message, cause string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, queue+"|"+message+"|"+cause)
}

func (a *recordingAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

func newTestRetryHandler(t *testing.T, maxAttempts int) (*RetryHandler, *Service, *recordingAudit) {
	t.Helper()
	s := NewService(20, 100*time.Millisecond)
	audit := &recordingAudit{}
	h := NewRetryHandler(s, RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    8 * time.Millisecond,
		Exponential: true,
	}, nil, audit)
	return h, s, audit
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	h, s, audit := newTestRetryHandler(t, 3)
	cause := fmt.Errorf("handler blew up")
	body := `{"type":"issue_created"}`

	assert.True(t, h.HandleFailedMessage("events", body, cause), "attempt 1 should requeue")
	assert.True(t, h.HandleFailedMessage("events", body, cause), "attempt 2 should requeue")
	assert.False(t, h.HandleFailedMessage("events", body, cause), "attempt 3 should dead-letter")

	envelope, ok := s.Dequeue("events"+DeadLetterSuffix, time.Second)
	require.True(t, ok, "dead letter should be on events.DLQ")

	assert.True(t, strings.HasPrefix(envelope, "DEAD_LETTER|originalQueue=events|error=handler blew up|timestamp="), "got %q", envelope)
	assert.True(t, strings.HasSuffix(envelope, "|message="+body), "original body must ride along verbatim, got %q", envelope)

	assert.Equal(t, 0, h.Attempts(body), "exhausted message must no longer be tracked")
	assert.Equal(t, 1, audit.count())
}

func TestRetrySuccessClearsCounter(t *testing.T) {
	h, s, audit := newTestRetryHandler(t, 3)
	body := "transient failure message"

	h.HandleFailedMessage("events", body, fmt.Errorf("flaky"))
	h.HandleFailedMessage("events", body, fmt.Errorf("flaky"))
	require.Equal(t, 2, h.Attempts(body))

	h.MarkSuccess(body)

	assert.Equal(t, 0, h.Attempts(body))
	assert.Equal(t, 0, audit.count(), "no dead letters expected")
	assert.Equal(t, 0, s.Size("events"+DeadLetterSuffix))
}

func TestBackoffMonotonicity(t *testing.T) {
	h, _, _ := newTestRetryHandler(t, 10)

	prev := h.Delay(1)
	assert.Equal(t, time.Millisecond, prev)

	for attempt := 2; attempt <= 8; attempt++ {
		delay := h.Delay(attempt)
		assert.GreaterOrEqual(t, delay, prev, "delay must never decrease")
		if delay < 8*time.Millisecond {
			assert.Equal(t, prev*2, delay, "uncapped delay must double")
		} else {
			assert.Equal(t, 8*time.Millisecond, delay, "delay must cap at MaxDelay")
		}
		prev = delay
	}
}

func TestFlatDelayWhenExponentialDisabled(t *testing.T) {
	s := NewService(5, 100*time.Millisecond)
	h := NewRetryHandler(s, RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Millisecond,
		MaxDelay:    time.Minute,
		Exponential: false,
	}, nil, nil)

	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, 2*time.Millisecond, h.Delay(attempt))
	}
}

func TestRetryReenqueuesMessage(t *testing.T) {
	h, s, _ := newTestRetryHandler(t, 5)
	body := "retry me"

	require.True(t, h.HandleFailedMessage("events", body, fmt.Errorf("boom")))

	msg, ok := s.Dequeue("events", time.Second)
	require.True(t, ok, "message should be re-enqueued after backoff")
	assert.Equal(t, body, msg)
}

func TestDeadLetterEnvelopeShape(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	envelope := DeadLetterEnvelope("events", "boom", ts, `{"k":"v"}`)
	assert.Equal(t, `DEAD_LETTER|originalQueue=events|error=boom|timestamp=1700000000000|message={"k":"v"}`, envelope)
}
