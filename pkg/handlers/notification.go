package handlers

import (
	"context"
	"fmt"
	"sort"

	"agentflow/pkg/breaker"
	"agentflow/pkg/logx"
	"agentflow/pkg/router"
	"agentflow/pkg/subst"
	"agentflow/pkg/tools"
)

// ErrChannelUnavailable is returned when the circuit breaker refuses an
// outbound attempt. The message re-enters the retry path and will be
// re-attempted after backoff, by which time the cooldown may have elapsed.
var ErrChannelUnavailable = fmt.Errorf("outbound execution channel unavailable (circuit open)")

// NotificationHandler turns a routed session into an execution request on the
// outbound channel. Every non-cleanup message type lands here.
type NotificationHandler struct {
	logger     *logx.Logger
	dispatcher Dispatcher
	breaker    *breaker.CircuitBreaker
	registry   *tools.Registry
	env        func() map[string]string
}

// NewNotificationHandler creates the handler. cb may be nil to disable
// breaker gating; registry may be nil to disable block-list filtering; env
// supplies the instruction substitution environment.
func NewNotificationHandler(dispatcher Dispatcher, cb *breaker.CircuitBreaker, registry *tools.Registry, env func() map[string]string) *NotificationHandler {
	return &NotificationHandler{
		logger:     logx.NewLogger("notification-handler"),
		dispatcher: dispatcher,
		breaker:    cb,
		registry:   registry,
		env:        env,
	}
}

// Init validates the session against its command: every argument the command
// declares as required must be present in the message payload.
func (h *NotificationHandler) Init(session *router.CommandSession) error {
	if session.Command == nil {
		return fmt.Errorf("session %s has no resolved command", session.SessionID)
	}

	var missing []string
	for name, spec := range session.Command.Arguments {
		if !spec.Required {
			continue
		}
		if _, ok := session.Payload[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("session %s is missing required arguments %v for command %s",
			session.SessionID, missing, session.Command.Name)
	}
	return nil
}

// Process builds the execution request and dispatches it through the breaker
// gate, reporting the outcome back to the breaker.
func (h *NotificationHandler) Process(ctx context.Context, session *router.CommandSession) error {
	req := h.buildRequest(session)

	if h.breaker != nil && !h.breaker.ShouldAttemptConnection() {
		h.logger.Warn("Refusing dispatch for session %s: %v", session.SessionID, ErrChannelUnavailable)
		return ErrChannelUnavailable
	}

	if err := h.dispatcher.Dispatch(ctx, req); err != nil {
		if h.breaker != nil {
			h.breaker.RecordFailure()
		}
		return fmt.Errorf("dispatch failed for session %s: %w", session.SessionID, err)
	}

	if h.breaker != nil {
		h.breaker.RecordSuccess()
	}
	h.logger.Info("Dispatched session %s (%s) with %d tool servers", session.SessionID, session.MsgType, len(session.Clients))
	return nil
}

// buildRequest assembles the outbound payload: command metadata, instructions
// with placeholders substituted against the environment plus payload string
// fields, and the session's tool inventory.
func (h *NotificationHandler) buildRequest(session *router.CommandSession) ExecutionRequest {
	lookup := map[string]string{}
	if h.env != nil {
		lookup = h.env()
	}
	for key, value := range session.Payload {
		if s, ok := value.(string); ok {
			lookup[key] = s
		}
	}

	var toolNames []string
	for serverName, srv := range session.Clients {
		for _, tool := range srv.Tools {
			key := tools.ServerTool{Server: serverName, Tool: tool.Name}
			if h.registry != nil && h.registry.Blocked(key) {
				h.logger.Debug("Withholding blocked tool %s from session %s", key, session.SessionID)
				continue
			}
			toolNames = append(toolNames, key.String())
		}
	}
	sort.Strings(toolNames)

	return ExecutionRequest{
		SessionID:    session.SessionID,
		RequestID:    session.RequestID,
		EventKey:     session.EventKey,
		MsgType:      session.MsgType,
		Command:      session.Command.Name,
		Model:        session.Command.Model,
		Strategy:     session.Command.Strategy,
		Instructions: subst.Substitute(session.Command.Instructions, lookup),
		Tools:        toolNames,
		WorkDir:      session.WorkDir,
		Payload:      session.Payload,
	}
}
