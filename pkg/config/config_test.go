package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultEventQueue, cfg.Queues.EventQueue)
	assert.Equal(t, DefaultResponseQueue, cfg.Queues.ResponseQueue)
	assert.Equal(t, DefaultOutboundQueue, cfg.Queues.OutboundQueue)
	assert.Equal(t, 100, cfg.Queues.Capacity)
	assert.Equal(t, 2, cfg.Queues.WorkersPerQueue)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.True(t, cfg.Retry.ExponentialBackoff)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.HalfOpenSuccessThreshold)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"queues": {"event_queue": "webhooks", "capacity": 7, "workers_per_queue": 4},
		"retry": {"max_attempts": 5, "base_delay_ms": 10, "max_delay_ms": 40, "exponential_backoff": true},
		"tools": {"request_timeout_sec": 10, "blocked_tools": ["fs:delete_file"]}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "webhooks", cfg.Queues.EventQueue)
	assert.Equal(t, 7, cfg.Queues.Capacity)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, []string{"fs:delete_file"}, cfg.Tools.BlockedTools)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	badQueues := writeFile(t, "config.json", `{"queues": {"event_queue": "same", "response_queue": "same"}}`)
	_, err := LoadConfig(badQueues)
	assert.Error(t, err)

	badOutbound := writeFile(t, "config.json", `{"queues": {"event_queue": "events", "outbound_queue": "events"}}`)
	_, err = LoadConfig(badOutbound)
	assert.Error(t, err)

	badDelay := writeFile(t, "config.json", `{"retry": {"max_attempts": 2, "base_delay_ms": 500, "max_delay_ms": 100}}`)
	_, err = LoadConfig(badDelay)
	assert.Error(t, err)

	badJSON := writeFile(t, "config.json", `{not json`)
	_, err = LoadConfig(badJSON)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadCommands(t *testing.T) {
	path := writeFile(t, "commands.yaml", `
commands:
  issue_created:
    description: Triage a new issue
    instructions: Read the issue and propose a fix plan.
    model: claude-sonnet-4
    strategy: plan-then-act
    tool_servers: '{"tracker": {"type": "http", "url": "https://{TRACKER_HOST}/mcp"}}'
    arguments:
      issue_key:
        type: string
        required: true
  vuln_detected:
    instructions: Assess the finding severity.
    model: claude-sonnet-4
`)

	commands, err := LoadCommands(path)
	require.NoError(t, err)
	require.Len(t, commands, 2)

	issue := commands["issue_created"]
	assert.Equal(t, "issue_created", issue.Name)
	assert.Equal(t, "plan-then-act", issue.Strategy)
	assert.Contains(t, issue.ToolServers, "{TRACKER_HOST}")
	assert.True(t, issue.Arguments["issue_key"].Required)

	assert.ElementsMatch(t, []string{"issue_created", "vuln_detected"}, CommandNames(commands))
}

func TestLoadCommandsValidation(t *testing.T) {
	noInstructions := writeFile(t, "commands.yaml", `
commands:
  broken:
    model: claude-sonnet-4
`)
	_, err := LoadCommands(noInstructions)
	assert.Error(t, err)

	noModel := writeFile(t, "commands.yaml", `
commands:
  broken:
    instructions: do things
`)
	_, err = LoadCommands(noModel)
	assert.Error(t, err)

	empty := writeFile(t, "commands.yaml", `commands: {}`)
	_, err = LoadCommands(empty)
	assert.Error(t, err)

	_, err = LoadCommands(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{"API_KEY": "abc123", "TRACKER_HOST": "tracker.internal"}

	require.NoError(t, EncryptSecretsFile(dir, "hunter2", secrets))
	assert.True(t, SecretsFileExists(dir))

	decrypted, err := DecryptSecretsFile(dir, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, secrets, decrypted)

	_, err = DecryptSecretsFile(dir, "wrong-password")
	assert.Error(t, err)
}

func TestSecretsFilePermissions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EncryptSecretsFile(dir, "pw", map[string]string{"A": "1"}))

	info, err := os.Stat(filepath.Join(dir, configDirName, secretsFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEnvironmentLayersSecretsOverEnv(t *testing.T) {
	t.Setenv("AGENTFLOW_TEST_VAR", "from-env")
	SetDecryptedSecrets(map[string]string{"AGENTFLOW_TEST_SECRET": "from-file", "AGENTFLOW_TEST_VAR": "overridden"})
	defer SetDecryptedSecrets(nil)

	env := Environment()
	assert.Equal(t, "overridden", env["AGENTFLOW_TEST_VAR"])
	assert.Equal(t, "from-file", env["AGENTFLOW_TEST_SECRET"])
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Setenv("AGENTFLOW_ENV_ONLY", "env-value")
	SetDecryptedSecrets(map[string]string{"AGENTFLOW_FILE_ONLY": "file-value"})
	defer SetDecryptedSecrets(nil)

	v, err := GetSecret("AGENTFLOW_FILE_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "file-value", v)

	v, err = GetSecret("AGENTFLOW_ENV_ONLY")
	require.NoError(t, err)
	assert.Equal(t, "env-value", v)

	_, err = GetSecret("AGENTFLOW_DOES_NOT_EXIST")
	assert.Error(t, err)
}
