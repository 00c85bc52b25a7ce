package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"agentflow/pkg/logx"
)

const (
	clientName    = "agentflow"
	clientVersion = "0.1.0"

	// WorkspaceRootEnv carries the per-session scratch directory into
	// subprocess tool servers alongside the declared roots capability.
	WorkspaceRootEnv = "WORKSPACE_ROOT"
)

// InitializedServer is a tool server that completed its handshake and
// reported at least one tool.
type InitializedServer struct {
	Name   string
	Client ToolClient
	Tools  []mcp.Tool
}

// TransportFactory builds an unstarted client for a server config.
type TransportFactory func(cfg ServerConfig) (ToolClient, error)

// ClientManager owns the lifecycle of MCP tool clients: transport creation,
// handshake, capability listing, per-session and per-command tracking, and
// bulk shutdown. All maps are safe for concurrent session provisioning.
type ClientManager struct {
	logger         *logx.Logger
	factory        TransportFactory
	requestTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]map[string]*InitializedServer // session id -> server name -> client
	agents   map[string]map[string]*InitializedServer // command name -> server name -> client
}

// NewClientManager creates a manager using the default transport factory.
func NewClientManager(requestTimeout time.Duration) *ClientManager {
	return &ClientManager{
		logger:         logx.NewLogger("tool-clients"),
		factory:        NewTransportClient,
		requestTimeout: requestTimeout,
		sessions:       make(map[string]map[string]*InitializedServer),
		agents:         make(map[string]map[string]*InitializedServer),
	}
}

// SetTransportFactory overrides the transport factory (used in tests).
func (m *ClientManager) SetTransportFactory(factory TransportFactory) {
	m.factory = factory
}

// CreateClient builds a transport for one server, performs the
// capability-exchange handshake, and returns the live handle. The client
// declares a filesystem root at workingDirRoot. Any failure is per-server:
// the error is returned for logging and the caller moves on to siblings.
func (m *ClientManager) CreateClient(ctx context.Context, name string, cfg ServerConfig, workingDirRoot string) (ToolClient, error) {
	if cmd, ok := cfg.(CommandServer); ok && workingDirRoot != "" {
		env := make(map[string]string, len(cmd.EnvVars)+1)
		for k, v := range cmd.EnvVars {
			env[k] = v
		}
		env[WorkspaceRootEnv] = workingDirRoot
		cmd.EnvVars = env
		cfg = cmd
	}

	c, err := m.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("transport for server %s: %w", name, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()
	if err := c.Start(startCtx); err != nil {
		m.closeQuietly(name, c)
		return nil, fmt.Errorf("start transport for server %s: %w", name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	initReq.Params.Capabilities = mcp.ClientCapabilities{
		Roots: &struct {
			ListChanged bool `json:"listChanged,omitempty"`
		}{ListChanged: true},
	}

	initCtx, cancelInit := context.WithTimeout(ctx, m.requestTimeout)
	defer cancelInit()
	if _, err := c.Initialize(initCtx, initReq); err != nil {
		m.closeQuietly(name, c)
		return nil, fmt.Errorf("initialize server %s: %w", name, err)
	}

	return c, nil
}

// LoadClients provisions clients for a session's server set. Servers that
// hand back at least one tool are retained and indexed by name; servers with
// zero tools are closed immediately and reported in the no-tools list along
// with servers that failed transport or handshake. A single server's failure
// never aborts its siblings.
func (m *ClientManager) LoadClients(ctx context.Context, sessionID string, configs map[string]ServerConfig, workingDir string) (map[string]*InitializedServer, []string) {
	servers, noTools := m.loadSet(ctx, configs, workingDir)

	if len(servers) > 0 {
		m.mu.Lock()
		m.sessions[sessionID] = servers
		m.mu.Unlock()
	}

	return servers, noTools
}

// LoadAgentClients provisions long-lived clients for a named agent command.
// Tracking is per command rather than per session; the clients survive until
// Shutdown.
func (m *ClientManager) LoadAgentClients(ctx context.Context, commandName string, configs map[string]ServerConfig, workingDir string) (map[string]*InitializedServer, []string) {
	servers, noTools := m.loadSet(ctx, configs, workingDir)

	if len(servers) > 0 {
		m.mu.Lock()
		m.agents[commandName] = servers
		m.mu.Unlock()
	}

	return servers, noTools
}

func (m *ClientManager) loadSet(ctx context.Context, configs map[string]ServerConfig, workingDir string) (map[string]*InitializedServer, []string) {
	servers := make(map[string]*InitializedServer)
	var noTools []string

	for _, name := range sortedNames(configs) {
		c, err := m.CreateClient(ctx, name, configs[name], workingDir)
		if err != nil {
			m.logger.Warn("Tool server %s unavailable: %v", name, err)
			noTools = append(noTools, name)
			continue
		}

		listCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		result, err := c.ListTools(listCtx, mcp.ListToolsRequest{})
		cancel()
		if err != nil {
			m.logger.Warn("Tool listing failed for server %s: %v", name, err)
			m.closeQuietly(name, c)
			noTools = append(noTools, name)
			continue
		}

		if len(result.Tools) == 0 {
			m.logger.Info("Tool server %s reported no tools, closing", name)
			m.closeQuietly(name, c)
			noTools = append(noTools, name)
			continue
		}

		m.logger.Info("Tool server %s initialized with %d tools", name, len(result.Tools))
		servers[name] = &InitializedServer{Name: name, Client: c, Tools: result.Tools}
	}

	return servers, noTools
}

// ReleaseSession closes and forgets every client tracked for a session. Each
// close is independently guarded so one failing close does not block the rest.
func (m *ClientManager) ReleaseSession(sessionID string) {
	m.mu.Lock()
	servers := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	for name, srv := range servers {
		m.closeQuietly(name, srv.Client)
	}
}

// Shutdown closes every retained client across the session and per-command
// maps.
func (m *ClientManager) Shutdown() {
	m.mu.Lock()
	all := make(map[string]ToolClient)
	for sessionID, servers := range m.sessions {
		for name, srv := range servers {
			all[sessionID+"/"+name] = srv.Client
		}
	}
	for commandName, servers := range m.agents {
		for name, srv := range servers {
			all[commandName+"/"+name] = srv.Client
		}
	}
	m.sessions = make(map[string]map[string]*InitializedServer)
	m.agents = make(map[string]map[string]*InitializedServer)
	m.mu.Unlock()

	for name, c := range all {
		m.closeQuietly(name, c)
	}
	m.logger.Info("Closed %d tool clients", len(all))
}

func (m *ClientManager) closeQuietly(name string, c ToolClient) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		m.logger.Warn("Failed to close tool client %s: %v", name, err)
	}
}
