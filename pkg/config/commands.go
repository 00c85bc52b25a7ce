package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArgumentSpec describes one argument an agent command accepts.
type ArgumentSpec struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Required    bool   `yaml:"required,omitempty"`
}

// AgentCommand is a named, versioned task template resolved by the event
// router. The catalog is loaded once at startup and read-only thereafter.
type AgentCommand struct {
	Name           string                  `yaml:"-"`
	Version        string                  `yaml:"version,omitempty"`
	Description    string                  `yaml:"description,omitempty"`
	Instructions   string                  `yaml:"instructions"`
	Model          string                  `yaml:"model"`
	ToolServers    string                  `yaml:"tool_servers,omitempty"` // Raw declaration; substituted and parsed per session
	Arguments      map[string]ArgumentSpec `yaml:"arguments,omitempty"`
	Strategy       string                  `yaml:"strategy,omitempty"`
	OutputSchema   string                  `yaml:"output_schema,omitempty"`
	ExitExpression string                  `yaml:"exit_expression,omitempty"`
}

type commandCatalog struct {
	Commands map[string]AgentCommand `yaml:"commands"`
}

// LoadCommands parses the agent-command catalog file into a map keyed by
// command name. Any parse or validation failure is returned; callers treat it
// as fatal to startup, there is no partial load.
func LoadCommands(path string) (map[string]AgentCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read commands file %s: %w", path, err)
	}

	var catalog commandCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse commands file %s: %w", path, err)
	}
	if len(catalog.Commands) == 0 {
		return nil, fmt.Errorf("commands file %s declares no commands", path)
	}

	commands := make(map[string]AgentCommand, len(catalog.Commands))
	for name, cmd := range catalog.Commands {
		if name == "" {
			return nil, fmt.Errorf("commands file %s contains an empty command name", path)
		}
		if cmd.Instructions == "" {
			return nil, fmt.Errorf("command %s has no instructions", name)
		}
		if cmd.Model == "" {
			return nil, fmt.Errorf("command %s has no model", name)
		}
		cmd.Name = name
		commands[name] = cmd
	}

	return commands, nil
}

// CommandNames returns the sorted-insensitive list of available command
// names, used when reporting a missing-command condition.
func CommandNames(commands map[string]AgentCommand) []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	return names
}
