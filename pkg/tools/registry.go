package tools

import (
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"agentflow/pkg/logx"
)

// ServerTool identifies one tool on one server. Its string form
// "server:tool" is the block-list matching key.
type ServerTool struct {
	Server string
	Tool   string
}

func (st ServerTool) String() string {
	return st.Server + ":" + st.Tool
}

// Registry aggregates tool schemas from all initialized clients into a single
// lookup and applies a configured block-list to produce the servable view.
type Registry struct {
	logger  *logx.Logger
	blocked map[ServerTool]bool

	mu    sync.RWMutex
	tools map[ServerTool]mcp.Tool
}

// NewRegistry creates a registry with the given block-list. Entries must be
// of the form "server:tool"; entries without a colon are ignored.
func NewRegistry(blockList []string) *Registry {
	logger := logx.NewLogger("tool-registry")

	blocked := make(map[ServerTool]bool, len(blockList))
	for _, entry := range blockList {
		server, tool, ok := strings.Cut(entry, ":")
		if !ok {
			logger.Warn("Ignoring malformed block-list entry %q (expected server:tool)", entry)
			continue
		}
		blocked[ServerTool{Server: server, Tool: tool}] = true
	}

	return &Registry{
		logger:  logger,
		blocked: blocked,
		tools:   make(map[ServerTool]mcp.Tool),
	}
}

// Blocked reports whether a server:tool pair appears in the block-list. The
// block-list is fixed at construction, so no lock is needed.
func (r *Registry) Blocked(st ServerTool) bool {
	return r.blocked[st]
}

// Refresh rebuilds the (server, tool) lookup from the current initialized
// client set. Last refresh wins per key.
func (r *Registry) Refresh(servers map[string]*InitializedServer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, srv := range servers {
		for _, tool := range srv.Tools {
			r.tools[ServerTool{Server: srv.Name, Tool: tool.Name}] = tool
		}
	}
}

// All returns a copy of the full, unfiltered tool map.
func (r *Registry) All() map[ServerTool]mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[ServerTool]mcp.Tool, len(r.tools))
	for key, tool := range r.tools {
		result[key] = tool
	}
	return result
}

// FilterTools returns a copy of the tool map with every blocked entry
// removed. The underlying map is never mutated by filtering.
func (r *Registry) FilterTools() map[ServerTool]mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[ServerTool]mcp.Tool, len(r.tools))
	for key, tool := range r.tools {
		if r.blocked[key] {
			r.logger.Debug("Filtering blocked tool %s", key)
			continue
		}
		result[key] = tool
	}
	return result
}
