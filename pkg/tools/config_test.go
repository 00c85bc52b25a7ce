package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerConfigsDiscrimination(t *testing.T) {
	declaration := `{
		"filesystem": {"command": "mcp-fs", "args": ["--readonly"], "env": {"ROOT": "/srv"}},
		"tracker": {"type": "http", "url": "https://tracker.internal/mcp", "headers": {"Authorization": "Bearer {TOKEN}"}},
		"scanner": {"type": "streamable-http", "url": "https://scanner.internal/mcp"}
	}`

	configs, err := ParseServerConfigs(declaration)
	require.NoError(t, err)
	require.Len(t, configs, 3)

	fs, ok := configs["filesystem"].(CommandServer)
	require.True(t, ok, "filesystem should be a CommandServer")
	assert.Equal(t, "mcp-fs", fs.Command)
	assert.Equal(t, []string{"--readonly"}, fs.Args)
	assert.Equal(t, "/srv", fs.EnvVars["ROOT"])

	tracker, ok := configs["tracker"].(HTTPServer)
	require.True(t, ok, "tracker should be an HTTPServer")
	assert.Equal(t, TransportHTTP, tracker.Type)

	scanner, ok := configs["scanner"].(HTTPServer)
	require.True(t, ok)
	assert.Equal(t, TransportStreamableHTTP, scanner.Type)
}

func TestParseServerConfigsDefaultsHTTPType(t *testing.T) {
	configs, err := ParseServerConfigs(`{"api": {"url": "https://api.internal/mcp"}}`)
	require.NoError(t, err)

	api := configs["api"].(HTTPServer)
	assert.Equal(t, TransportHTTP, api.Type)
}

func TestParseServerConfigsRejectsAmbiguousEntries(t *testing.T) {
	tests := []struct {
		name        string
		declaration string
	}{
		{"both command and url", `{"bad": {"command": "x", "url": "https://y"}}`},
		{"neither command nor url", `{"bad": {"env": {"A": "1"}}}`},
		{"unknown http type", `{"bad": {"type": "websocket", "url": "https://y"}}`},
		{"invalid json", `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServerConfigs(tt.declaration)
			assert.Error(t, err)
		})
	}
}

func TestParseServerConfigsEmptyDeclaration(t *testing.T) {
	configs, err := ParseServerConfigs("")
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestResolveServerCommand(t *testing.T) {
	cfg := CommandServer{
		Command: "{BIN_DIR}/mcp-fs",
		Args:    []string{"--root", "{WORKDIR}"},
		EnvVars: map[string]string{
			"TOKEN":   "{API_KEY}",
			"DERIVED": "prefix-{TOKEN}",
		},
	}
	external := map[string]string{
		"BIN_DIR": "/usr/local/bin",
		"WORKDIR": "/tmp/session",
		"API_KEY": "abc",
	}

	resolved := ResolveServer(cfg, external).(CommandServer)

	assert.Equal(t, "/usr/local/bin/mcp-fs", resolved.Command)
	assert.Equal(t, []string{"--root", "/tmp/session"}, resolved.Args)
	assert.Equal(t, "abc", resolved.EnvVars["TOKEN"])
	assert.Equal(t, "prefix-abc", resolved.EnvVars["DERIVED"])
}

func TestResolveServerHTTPUsesOwnEnv(t *testing.T) {
	cfg := HTTPServer{
		Type:    TransportHTTP,
		URL:     "https://{HOST}/mcp",
		Headers: map[string]string{"Authorization": "Bearer {TOKEN}"},
		EnvVars: map[string]string{"TOKEN": "{API_KEY}"},
	}
	external := map[string]string{"HOST": "tracker.internal", "API_KEY": "xyz"}

	resolved := ResolveServer(cfg, external).(HTTPServer)

	// The resolved declared env is merged over the external environment and
	// used as the lookup for url and headers.
	assert.Equal(t, "https://tracker.internal/mcp", resolved.URL)
	assert.Equal(t, "Bearer xyz", resolved.Headers["Authorization"])
}

func TestResolveServersLeavesUnknownPlaceholders(t *testing.T) {
	configs := map[string]ServerConfig{
		"a": CommandServer{Command: "run-{UNSET}"},
	}
	resolved := ResolveServers(configs, map[string]string{})
	assert.Equal(t, "run-{UNSET}", resolved["a"].(CommandServer).Command)
}
