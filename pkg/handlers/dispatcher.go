// Package handlers provides the downstream handlers the router dispatches
// to: the notification handler driving the outbound execution channel, and
// the end-of-flow cleanup handler.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"agentflow/pkg/logx"
	"agentflow/pkg/queue"
)

// ExecutionRequest is the outbound payload handed to the execution channel
// for one routed session.
type ExecutionRequest struct {
	SessionID    string         `json:"sessionId"`
	RequestID    string         `json:"requestId"`
	EventKey     string         `json:"eventKey"`
	MsgType      string         `json:"type"`
	Command      string         `json:"command"`
	Model        string         `json:"model,omitempty"`
	Strategy     string         `json:"strategy,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Tools        []string       `json:"tools,omitempty"` // "server:tool" after block filtering
	WorkDir      string         `json:"workDir,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Dispatcher delivers an execution request to the outbound channel. The
// notification handler consults the circuit breaker around each call.
type Dispatcher interface {
	Dispatch(ctx context.Context, req ExecutionRequest) error
}

// QueueDispatcher delivers execution requests by enqueueing them on the
// outbound queue, where the external connection layer picks them up.
type QueueDispatcher struct {
	logger    *logx.Logger
	queues    *queue.Service
	queueName string
}

// NewQueueDispatcher creates a dispatcher targeting the named queue.
func NewQueueDispatcher(queues *queue.Service, queueName string) *QueueDispatcher {
	return &QueueDispatcher{
		logger:    logx.NewLogger("dispatcher"),
		queues:    queues,
		queueName: queueName,
	}
}

// Dispatch serializes the request and offers it to the outbound queue. A
// full or shut-down queue is a dispatch failure the breaker gets to see.
func (d *QueueDispatcher) Dispatch(_ context.Context, req ExecutionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to serialize execution request %s: %w", req.RequestID, err)
	}
	if !d.queues.Enqueue(d.queueName, string(data)) {
		return fmt.Errorf("failed to enqueue execution request %s on %s", req.RequestID, d.queueName)
	}
	d.logger.Debug("Dispatched request %s to %s", req.RequestID, d.queueName)
	return nil
}
