package tools

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolClient is the subset of the MCP client surface the manager drives.
// *client.Client satisfies it; tests substitute fakes.
type ToolClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

// NewTransportClient builds an unstarted MCP client for the given server
// config. A subprocess command must be non-blank and resolvable on PATH
// before a transport is attempted; an HTTP server must carry a url. Failures
// here are per-server and recoverable, never fatal to the process.
func NewTransportClient(cfg ServerConfig) (ToolClient, error) {
	switch s := cfg.(type) {
	case CommandServer:
		return newStdioClient(s)
	case HTTPServer:
		return newHTTPClient(s)
	default:
		return nil, fmt.Errorf("unknown tool server config type %T", cfg)
	}
}

func newStdioClient(cfg CommandServer) (ToolClient, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("tool server command is empty")
	}

	// Probe PATH before constructing the transport so an unresolvable binary
	// fails fast instead of hanging in the handshake.
	if _, err := exec.LookPath(cfg.Command); err != nil {
		return nil, fmt.Errorf("tool server command %q not found on PATH: %w", cfg.Command, err)
	}

	env := make([]string, 0, len(cfg.EnvVars))
	for k, v := range cfg.EnvVars {
		env = append(env, k+"="+v)
	}

	c, err := client.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdio client for %q: %w", cfg.Command, err)
	}
	return stdioClient{c}, nil
}

// stdioClient absorbs the manager's uniform Start call: the stdio constructor
// already starts its transport, and starting twice would respawn the process.
type stdioClient struct {
	*client.Client
}

func (stdioClient) Start(context.Context) error { return nil }

func newHTTPClient(cfg HTTPServer) (ToolClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("tool server url is empty")
	}

	switch cfg.Type {
	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err := client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create streamable-http client for %s: %w", cfg.URL, err)
		}
		return c, nil
	default:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(cfg.Headers))
		}
		c, err := client.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create sse client for %s: %w", cfg.URL, err)
		}
		return c, nil
	}
}
