package tools

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToolClient implements ToolClient for manager tests.
type fakeToolClient struct {
	tools    []mcp.Tool
	startErr error
	initErr  error
	listErr  error

	mu     sync.Mutex
	closed bool
}

func (f *fakeToolClient) Start(ctx context.Context) error { return f.startErr }

func (f *fakeToolClient) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mcp.InitializeResult{}, nil
}

func (f *fakeToolClient) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeToolClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeToolClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func namedTool(name string) mcp.Tool {
	return mcp.Tool{Name: name}
}

func newTestManager(clients map[string]*fakeToolClient) *ClientManager {
	m := NewClientManager(5 * time.Second)
	m.SetTransportFactory(func(cfg ServerConfig) (ToolClient, error) {
		cmd, ok := cfg.(CommandServer)
		if !ok {
			return nil, fmt.Errorf("test factory only handles command servers")
		}
		c, exists := clients[cmd.Command]
		if !exists {
			return nil, fmt.Errorf("command %q not found on PATH", cmd.Command)
		}
		return c, nil
	})
	return m
}

func TestLoadClientsPartialFailure(t *testing.T) {
	good1 := &fakeToolClient{tools: []mcp.Tool{namedTool("read_file")}}
	good2 := &fakeToolClient{tools: []mcp.Tool{namedTool("search")}}
	m := newTestManager(map[string]*fakeToolClient{
		"server-a": good1,
		"server-b": good2,
	})

	configs := map[string]ServerConfig{
		"alpha":  CommandServer{Command: "server-a"},
		"beta":   CommandServer{Command: "server-b"},
		"broken": CommandServer{Command: "no-such-binary"},
	}

	servers, noTools := m.LoadClients(context.Background(), "sess-1", configs, t.TempDir())

	require.Len(t, servers, 2)
	assert.Contains(t, servers, "alpha")
	assert.Contains(t, servers, "beta")
	assert.Equal(t, []string{"broken"}, noTools)
}

func TestLoadClientsClosesZeroToolServers(t *testing.T) {
	empty := &fakeToolClient{tools: nil}
	m := newTestManager(map[string]*fakeToolClient{"server-empty": empty})

	configs := map[string]ServerConfig{
		"empty": CommandServer{Command: "server-empty"},
	}

	servers, noTools := m.LoadClients(context.Background(), "sess-2", configs, t.TempDir())

	assert.Empty(t, servers)
	assert.Equal(t, []string{"empty"}, noTools)
	assert.True(t, empty.isClosed(), "zero-tool server must be closed immediately")
}

func TestLoadClientsHandshakeFailureClosesClient(t *testing.T) {
	failing := &fakeToolClient{initErr: fmt.Errorf("handshake refused")}
	m := newTestManager(map[string]*fakeToolClient{"server-x": failing})

	servers, noTools := m.LoadClients(context.Background(), "sess-3", map[string]ServerConfig{
		"x": CommandServer{Command: "server-x"},
	}, t.TempDir())

	assert.Empty(t, servers)
	assert.Equal(t, []string{"x"}, noTools)
	assert.True(t, failing.isClosed())
}

func TestCreateClientInjectsWorkspaceRoot(t *testing.T) {
	var seenEnv map[string]string
	m := NewClientManager(time.Second)
	m.SetTransportFactory(func(cfg ServerConfig) (ToolClient, error) {
		seenEnv = cfg.Env()
		return &fakeToolClient{tools: []mcp.Tool{namedTool("t")}}, nil
	})

	_, err := m.CreateClient(context.Background(), "fs", CommandServer{Command: "mcp-fs"}, "/tmp/sess-9")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/sess-9", seenEnv[WorkspaceRootEnv])
}

func TestReleaseSessionClosesClients(t *testing.T) {
	c := &fakeToolClient{tools: []mcp.Tool{namedTool("t")}}
	m := newTestManager(map[string]*fakeToolClient{"server-a": c})

	servers, _ := m.LoadClients(context.Background(), "sess-4", map[string]ServerConfig{
		"alpha": CommandServer{Command: "server-a"},
	}, t.TempDir())
	require.Len(t, servers, 1)

	m.ReleaseSession("sess-4")
	assert.True(t, c.isClosed())

	// Releasing an unknown session is a no-op.
	m.ReleaseSession("sess-unknown")
}

func TestShutdownClosesAllClients(t *testing.T) {
	sessionClient := &fakeToolClient{tools: []mcp.Tool{namedTool("a")}}
	agentClient := &fakeToolClient{tools: []mcp.Tool{namedTool("b")}}
	m := newTestManager(map[string]*fakeToolClient{
		"server-a": sessionClient,
		"server-b": agentClient,
	})

	m.LoadClients(context.Background(), "sess-5", map[string]ServerConfig{
		"alpha": CommandServer{Command: "server-a"},
	}, t.TempDir())
	m.LoadAgentClients(context.Background(), "triage", map[string]ServerConfig{
		"beta": CommandServer{Command: "server-b"},
	}, t.TempDir())

	m.Shutdown()

	assert.True(t, sessionClient.isClosed())
	assert.True(t, agentClient.isClosed())
}

func TestNewTransportClientRejectsBadConfigs(t *testing.T) {
	_, err := NewTransportClient(CommandServer{Command: ""})
	assert.Error(t, err, "blank command must be rejected")

	_, err = NewTransportClient(CommandServer{Command: "definitely-not-a-real-binary-42"})
	assert.Error(t, err, "unresolvable binary must fail the PATH probe")

	_, err = NewTransportClient(HTTPServer{URL: ""})
	assert.Error(t, err, "empty url must be rejected")
}
