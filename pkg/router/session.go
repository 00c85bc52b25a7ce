package router

import (
	"time"

	"agentflow/pkg/config"
	"agentflow/pkg/tools"
)

// CommandSession is the ephemeral unit of work for one routed message. It is
// built once per message, handed to exactly one handler, and torn down
// (clients closed, scratch directory removed) on every exit path. A session
// is never shared across workers.
type CommandSession struct {
	MsgType   string
	SessionID string
	RequestID string
	EventKey  string

	// Command is the resolved agent command; nil only for the cleanup
	// message type, which may run without a configuration match.
	Command *config.AgentCommand

	// Clients holds the live tool clients keyed by server name.
	Clients map[string]*tools.InitializedServer
	// NoToolServers lists declared servers that failed or reported no tools.
	NoToolServers []string

	// WorkDir is the per-session scratch directory granted to tool clients.
	WorkDir string

	CreatedAt        time.Time
	Attempt          int
	Payload          map[string]any
	RawPayload       string
	CheckpointID     string
	ProjectStructure string
}
