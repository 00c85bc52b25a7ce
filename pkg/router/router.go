// Package router routes queued trigger events to agent command sessions. For
// each message it resolves the configured command, substitutes placeholders,
// provisions tool clients, dispatches to a handler, and guarantees teardown
// of clients and the session scratch directory on every exit path.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"agentflow/pkg/config"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
	"agentflow/pkg/tools"
)

// Well-known payload fields and message types.
const (
	TypeField             = "type"
	EventKeyField         = "eventKey"
	CheckpointIDField     = "checkpointId"
	ProjectStructureField = "projectStructure"

	PingEventType    = "ping"
	CleanupEventType = "end_flow_cleanup"
)

// ToolProvisioner provisions and releases tool clients for a session. The
// client manager satisfies it; tests substitute a fake.
type ToolProvisioner interface {
	LoadClients(ctx context.Context, sessionID string, configs map[string]tools.ServerConfig, workingDir string) (map[string]*tools.InitializedServer, []string)
	ReleaseSession(sessionID string)
}

// SessionAudit records completed sessions. A nil audit disables recording.
type SessionAudit interface {
	RecordSession(rec eventlog.SessionRecord) error
}

// AttemptSource reports how many failed deliveries a message already has on
// record. The retry handler satisfies it; a nil source means every session
// reports attempt 1.
type AttemptSource interface {
	Attempts(message string) int
}

// Options configures a Router.
type Options struct {
	Commands    map[string]config.AgentCommand
	Handlers    *HandlerRegistry
	Provisioner ToolProvisioner
	Registry    *tools.Registry

	// Env supplies the substitution environment (process env plus decrypted
	// secrets). Defaults to config.Environment.
	Env func() map[string]string

	// WorkspaceRoot is the parent of per-session scratch directories.
	// Defaults to the user's home directory.
	WorkspaceRoot string

	Metrics  *metrics.Recorder
	Audit    SessionAudit
	Attempts AttemptSource
}

// Router is the message event router. It implements the consumer's Processor
// interface; a returned error sends the message into the retry path.
type Router struct {
	logger        *logx.Logger
	commands      map[string]config.AgentCommand
	handlers      *HandlerRegistry
	provisioner   ToolProvisioner
	registry      *tools.Registry
	env           func() map[string]string
	workspaceRoot string
	metrics       *metrics.Recorder
	audit         SessionAudit
	attempts      AttemptSource
}

// New creates a router. Commands, Handlers, and Provisioner are required.
func New(opts Options) (*Router, error) {
	if opts.Commands == nil {
		return nil, fmt.Errorf("router requires a command catalog")
	}
	if opts.Handlers == nil {
		return nil, fmt.Errorf("router requires a handler registry")
	}
	if opts.Provisioner == nil {
		return nil, fmt.Errorf("router requires a tool provisioner")
	}

	env := opts.Env
	if env == nil {
		env = config.Environment
	}

	root := opts.WorkspaceRoot
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
		}
		root = home
	}

	return &Router{
		logger:        logx.NewLogger("router"),
		commands:      opts.Commands,
		handlers:      opts.Handlers,
		provisioner:   opts.Provisioner,
		registry:      opts.Registry,
		env:           env,
		workspaceRoot: root,
		metrics:       opts.Metrics,
		audit:         opts.Audit,
		attempts:      opts.Attempts,
	}, nil
}

// ProcessMessage routes one raw queue message. Unparseable payloads and
// command resolution failures return errors (retryable); messages without a
// type discriminator and ping heartbeats are dropped silently with a nil
// return so they never retry.
func (r *Router) ProcessMessage(ctx context.Context, raw string) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("failed to parse message payload: %w", err)
	}

	msgType := stringField(payload, TypeField)
	if msgType == "" {
		r.logger.Warn("Dropping message without a type discriminator")
		return nil
	}
	if msgType == PingEventType {
		r.logger.Debug("Dropping ping heartbeat")
		return nil
	}

	eventKey := stringField(payload, EventKeyField)
	sessionID := uuid.New().String()
	if eventKey == "" {
		eventKey = sessionID
	}

	// Attempt numbering: prior failures on record plus this delivery.
	attempt := 1
	if r.attempts != nil {
		attempt = r.attempts.Attempts(raw) + 1
	}

	session := &CommandSession{
		MsgType:          msgType,
		SessionID:        sessionID,
		RequestID:        uuid.New().String(),
		EventKey:         eventKey,
		Attempt:          attempt,
		CreatedAt:        time.Now(),
		Payload:          payload,
		RawPayload:       raw,
		CheckpointID:     stringField(payload, CheckpointIDField),
		ProjectStructure: stringField(payload, ProjectStructureField),
	}

	command, found := r.commands[msgType]
	if !found && msgType != CleanupEventType {
		err := &MissingCommandError{MsgType: msgType, Available: config.CommandNames(r.commands)}
		r.logger.Error("%v", err)
		r.finishSession(session, err)
		return err
	}
	if found {
		session.Command = &command
	}

	r.logger.Info("Routing %s event %s as session %s", msgType, eventKey, sessionID)
	return r.runSession(ctx, session)
}

// runSession provisions the session's scratch directory and tool clients,
// dispatches to the resolved handler, and tears everything down. The deferred
// teardown covers every return path after this point.
func (r *Router) runSession(ctx context.Context, session *CommandSession) (err error) {
	defer func() {
		r.teardown(session)
		r.finishSession(session, err)
	}()

	if session.Command != nil {
		workDir := filepath.Join(r.workspaceRoot, session.SessionID)
		if err := ensureWritableDir(workDir); err != nil {
			return fmt.Errorf("session %s scratch directory: %w", session.SessionID, err)
		}
		session.WorkDir = workDir

		if err := r.provisionTools(ctx, session); err != nil {
			return err
		}
	}

	handlerName := DispatchTarget(session.MsgType)
	handler, ok := r.handlers.Get(handlerName)
	if !ok {
		return fmt.Errorf("no %s handler registered", handlerName)
	}

	if err := handler.Init(session); err != nil {
		return fmt.Errorf("%s handler init failed for session %s: %w", handlerName, session.SessionID, err)
	}
	if err := handler.Process(ctx, session); err != nil {
		return fmt.Errorf("%s handler failed for session %s: %w", handlerName, session.SessionID, err)
	}
	return nil
}

// provisionTools parses and resolves the command's tool-server declaration
// and brings up clients. Per-server failures are tolerated; only a malformed
// declaration fails the session.
func (r *Router) provisionTools(ctx context.Context, session *CommandSession) error {
	configs, err := tools.ParseServerConfigs(session.Command.ToolServers)
	if err != nil {
		return fmt.Errorf("command %s: %w", session.Command.Name, err)
	}
	if len(configs) == 0 {
		return nil
	}

	resolved := tools.ResolveServers(configs, r.env())
	clients, noTools := r.provisioner.LoadClients(ctx, session.SessionID, resolved, session.WorkDir)
	session.Clients = clients
	session.NoToolServers = noTools

	for name := range clients {
		r.metrics.IncToolClient(name, "ready")
	}
	for _, name := range noTools {
		r.metrics.IncToolClient(name, "unavailable")
		r.logger.Warn("Session %s continues without tool server %s", session.SessionID, name)
	}

	if r.registry != nil {
		r.registry.Refresh(clients)
	}
	return nil
}

// teardown releases the session's tool clients and removes its scratch
// directory. Both are best-effort and always run.
func (r *Router) teardown(session *CommandSession) {
	r.provisioner.ReleaseSession(session.SessionID)
	if session.WorkDir != "" {
		removeDirBestEffort(session.WorkDir, r.logger)
	}
}

// finishSession records the session outcome to metrics and the audit log.
func (r *Router) finishSession(session *CommandSession, err error) {
	duration := time.Since(session.CreatedAt)
	status := "success"
	errText := ""
	if err != nil {
		status = "error"
		errText = err.Error()
	}

	r.metrics.ObserveSession(session.MsgType, err == nil, duration)

	if r.audit == nil {
		return
	}
	commandName := ""
	if session.Command != nil {
		commandName = session.Command.Name
	}
	if recErr := r.audit.RecordSession(eventlog.SessionRecord{
		SessionID: session.SessionID,
		RequestID: session.RequestID,
		EventKey:  session.EventKey,
		MsgType:   session.MsgType,
		Command:   commandName,
		Status:    status,
		Error:     errText,
		Duration:  duration,
	}); recErr != nil {
		r.logger.Warn("Failed to audit session %s: %v", session.SessionID, recErr)
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
