// Package tools manages MCP tool-server configuration, transports, client
// lifecycle, and the filtered tool registry served to agent sessions.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"

	"agentflow/pkg/subst"
)

// HTTP server transport kinds.
const (
	TransportHTTP           = "http"
	TransportStreamableHTTP = "streamable-http"
)

// ServerConfig is a sealed tagged union of the two tool-server shapes: a
// subprocess launched over stdio, or an endpoint reachable over HTTP.
// Exactly one variant is active per configuration entry.
type ServerConfig interface {
	// Env returns the server's declared environment map.
	Env() map[string]string
	sealed()
}

// CommandServer is a tool server launched as a subprocess speaking stdio.
type CommandServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	EnvVars map[string]string `json:"env,omitempty"`
}

func (c CommandServer) Env() map[string]string { return c.EnvVars }
func (c CommandServer) sealed()                {}

// HTTPServer is a tool server reachable over HTTP, either SSE-streaming or
// request/response streamable-http.
type HTTPServer struct {
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	EnvVars map[string]string `json:"env,omitempty"`
}

func (h HTTPServer) Env() map[string]string { return h.EnvVars }
func (h HTTPServer) sealed()                {}

// rawServerEntry is the on-disk shape of one declared server before the
// command/url discrimination is applied.
type rawServerEntry struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ParseServerConfigs parses a raw tool-server declaration string (a JSON
// object keyed by server name) into the tagged-union config map. An entry is
// a CommandServer when it carries a command, an HTTPServer when it carries a
// url; carrying both or neither is a configuration error.
func ParseServerConfigs(declaration string) (map[string]ServerConfig, error) {
	if declaration == "" {
		return map[string]ServerConfig{}, nil
	}

	var raw map[string]rawServerEntry
	if err := json.Unmarshal([]byte(declaration), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse tool server declaration: %w", err)
	}

	configs := make(map[string]ServerConfig, len(raw))
	for name, entry := range raw {
		switch {
		case entry.Command != "" && entry.URL != "":
			return nil, fmt.Errorf("tool server %s declares both command and url", name)
		case entry.Command != "":
			configs[name] = CommandServer{
				Command: entry.Command,
				Args:    entry.Args,
				EnvVars: entry.Env,
			}
		case entry.URL != "":
			serverType := entry.Type
			if serverType == "" {
				serverType = TransportHTTP
			}
			if serverType != TransportHTTP && serverType != TransportStreamableHTTP {
				return nil, fmt.Errorf("tool server %s has unknown type %q", name, serverType)
			}
			configs[name] = HTTPServer{
				Type:    serverType,
				URL:     entry.URL,
				Headers: entry.Headers,
				EnvVars: entry.Env,
			}
		default:
			return nil, fmt.Errorf("tool server %s declares neither command nor url", name)
		}
	}

	return configs, nil
}

// ResolveServer substitutes placeholders in a server config. The declared env
// map is resolved to a fixed point against the external environment first,
// then merged on top of it to form the lookup for the remaining string fields.
func ResolveServer(cfg ServerConfig, external map[string]string) ServerConfig {
	resolved := subst.ResolveEnv(cfg.Env(), external)
	lookup := subst.MergedEnv(resolved, external)

	switch s := cfg.(type) {
	case CommandServer:
		return CommandServer{
			Command: subst.Substitute(s.Command, lookup),
			Args:    subst.SubstituteSlice(s.Args, lookup),
			EnvVars: resolved,
		}
	case HTTPServer:
		return HTTPServer{
			Type:    s.Type,
			URL:     subst.Substitute(s.URL, lookup),
			Headers: subst.SubstituteMap(s.Headers, lookup),
			EnvVars: resolved,
		}
	default:
		return cfg
	}
}

// ResolveServers applies ResolveServer to every entry of a declaration map.
func ResolveServers(configs map[string]ServerConfig, external map[string]string) map[string]ServerConfig {
	resolved := make(map[string]ServerConfig, len(configs))
	for name, cfg := range configs {
		resolved[name] = ResolveServer(cfg, external)
	}
	return resolved
}

// sortedNames returns server names in stable order for deterministic logging.
func sortedNames(configs map[string]ServerConfig) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
