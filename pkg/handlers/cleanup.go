package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentflow/pkg/logx"
	"agentflow/pkg/queue"
	"agentflow/pkg/router"
)

// CleanupHandler handles end-of-flow cleanup events. Unlike the notification
// path it tolerates a session with no resolved command: the flow-completion
// record still gets published so downstream consumers see the flow close.
type CleanupHandler struct {
	logger    *logx.Logger
	publisher *queue.Publisher
	queueName string
}

// NewCleanupHandler creates the handler. publisher may be nil, in which case
// completions are only logged.
func NewCleanupHandler(publisher *queue.Publisher, queueName string) *CleanupHandler {
	return &CleanupHandler{
		logger:    logx.NewLogger("cleanup-handler"),
		publisher: publisher,
		queueName: queueName,
	}
}

// Init accepts every session; cleanup has no required arguments.
func (h *CleanupHandler) Init(_ *router.CommandSession) error {
	return nil
}

// Process publishes a flow-completion record keyed by the event.
func (h *CleanupHandler) Process(_ context.Context, session *router.CommandSession) error {
	record := map[string]any{
		"type":        "flow_completed",
		"sessionId":   session.SessionID,
		"requestId":   session.RequestID,
		"eventKey":    session.EventKey,
		"completedAt": time.Now().UnixMilli(),
	}
	if session.CheckpointID != "" {
		record["checkpointId"] = session.CheckpointID
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize flow completion for %s: %w", session.EventKey, err)
	}

	h.logger.Info("Flow %s completed, session %s", session.EventKey, session.SessionID)
	if h.publisher != nil {
		h.publisher.Publish(h.queueName, string(data))
	}
	return nil
}
