// Package config provides configuration loading, validation, and secret
// management for the orchestration engine: the JSON engine config, the YAML
// agent-command catalog, and the encrypted secrets file feeding placeholder
// substitution.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Default queue names.
const (
	DefaultEventQueue    = "agent.events"
	DefaultResponseQueue = "agent.responses"
	DefaultOutboundQueue = "agent.outbound"
)

// QueuesConfig configures the in-memory queue layer.
type QueuesConfig struct {
	EventQueue      string `json:"event_queue"`
	ResponseQueue   string `json:"response_queue"`
	OutboundQueue   string `json:"outbound_queue"` // Drained by the external connection layer, never consumed in-process
	Capacity        int    `json:"capacity"`
	OfferTimeoutMS  int    `json:"offer_timeout_ms"`
	PollTimeoutMS   int    `json:"poll_timeout_ms"`
	WorkersPerQueue int    `json:"workers_per_queue"`
}

// RetryConfig configures failed-message retry behavior.
type RetryConfig struct {
	MaxAttempts        int  `json:"max_attempts"`
	BaseDelayMS        int  `json:"base_delay_ms"`
	MaxDelayMS         int  `json:"max_delay_ms"`
	ExponentialBackoff bool `json:"exponential_backoff"`
}

// BreakerConfig configures the outbound-channel circuit breaker.
type BreakerConfig struct {
	FailureThreshold         int `json:"failure_threshold"`
	CooldownSec              int `json:"cooldown_sec"`
	HalfOpenSuccessThreshold int `json:"half_open_success_threshold"`
}

// ToolsConfig configures MCP tool client behavior.
type ToolsConfig struct {
	RequestTimeoutSec int      `json:"request_timeout_sec"`
	BlockedTools      []string `json:"blocked_tools"` // "server:tool" entries
}

// Config is the engine configuration, loaded once at startup.
type Config struct {
	Queues                     QueuesConfig  `json:"queues"`
	Retry                      RetryConfig   `json:"retry"`
	Breaker                    BreakerConfig `json:"breaker"`
	Tools                      ToolsConfig   `json:"tools"`
	CommandsFile               string        `json:"commands_file"`
	EventLogPath               string        `json:"event_log_path"`
	HealthAddr                 string        `json:"health_addr"`
	WorkspaceRoot              string        `json:"workspace_root"` // Root for per-session scratch dirs; defaults to $HOME
	GracefulShutdownTimeoutSec int           `json:"graceful_shutdown_timeout_sec"`
}

// LoadConfig reads the engine config file, applies defaults, and validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Queues.EventQueue == "" {
		c.Queues.EventQueue = DefaultEventQueue
	}
	if c.Queues.ResponseQueue == "" {
		c.Queues.ResponseQueue = DefaultResponseQueue
	}
	if c.Queues.OutboundQueue == "" {
		c.Queues.OutboundQueue = DefaultOutboundQueue
	}
	if c.Queues.Capacity <= 0 {
		c.Queues.Capacity = 100
	}
	if c.Queues.OfferTimeoutMS <= 0 {
		c.Queues.OfferTimeoutMS = 1000
	}
	if c.Queues.PollTimeoutMS <= 0 {
		c.Queues.PollTimeoutMS = 500
	}
	if c.Queues.WorkersPerQueue <= 0 {
		c.Queues.WorkersPerQueue = 2
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
		c.Retry.ExponentialBackoff = true
	}
	if c.Retry.BaseDelayMS <= 0 {
		c.Retry.BaseDelayMS = 1000
	}
	if c.Retry.MaxDelayMS <= 0 {
		c.Retry.MaxDelayMS = 30000
	}
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.CooldownSec <= 0 {
		c.Breaker.CooldownSec = 300
	}
	if c.Breaker.HalfOpenSuccessThreshold <= 0 {
		c.Breaker.HalfOpenSuccessThreshold = 2
	}
	if c.Tools.RequestTimeoutSec <= 0 {
		c.Tools.RequestTimeoutSec = 30
	}
	if c.CommandsFile == "" {
		c.CommandsFile = "commands.yaml"
	}
	if c.EventLogPath == "" {
		c.EventLogPath = "agentflow.db"
	}
	if c.HealthAddr == "" {
		c.HealthAddr = ":8081"
	}
	if c.GracefulShutdownTimeoutSec <= 0 {
		c.GracefulShutdownTimeoutSec = 30
	}
}

func (c *Config) validate() error {
	if c.Queues.EventQueue == c.Queues.ResponseQueue {
		return fmt.Errorf("event queue and response queue must differ")
	}
	if c.Queues.OutboundQueue == c.Queues.EventQueue || c.Queues.OutboundQueue == c.Queues.ResponseQueue {
		return fmt.Errorf("outbound queue must differ from consumed queues")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return fmt.Errorf("retry max_delay_ms (%d) must be >= base_delay_ms (%d)", c.Retry.MaxDelayMS, c.Retry.BaseDelayMS)
	}
	return nil
}

// OfferTimeout returns the enqueue offer timeout as a duration.
func (c *Config) OfferTimeout() time.Duration {
	return time.Duration(c.Queues.OfferTimeoutMS) * time.Millisecond
}

// PollTimeout returns the consumer poll timeout as a duration.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Queues.PollTimeoutMS) * time.Millisecond
}

// BaseDelay returns the retry base delay as a duration.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// MaxDelay returns the retry delay cap as a duration.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
}

// ToolRequestTimeout returns the MCP request timeout as a duration.
func (c *Config) ToolRequestTimeout() time.Duration {
	return time.Duration(c.Tools.RequestTimeoutSec) * time.Second
}

// Cooldown returns the breaker cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSec) * time.Second
}

// ShutdownTimeout returns the graceful shutdown grace period as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownTimeoutSec) * time.Second
}
