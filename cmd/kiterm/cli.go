package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kiterm/kiterm/pkg/chat"
)

// ConfigVersion is the current config file version.
const ConfigVersion = "v1"

// CLI is the root command structure for kiterm. It serves as the
// single source of truth for CLI flags, env vars, and config files.
type CLI struct {
	// Global flags (shared across all subcommands)
	Config   string `short:"c" help:"Path to config file" type:"path" yaml:"-"`
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"warn" env:"KITERM_LOG_LEVEL" yaml:"-"`

	// Embedded config (populated from file + CLI + env)
	Version string    `yaml:"version" kong:"-"`
	API     APIConfig `embed:"" prefix:"api-" yaml:"api"`

	// Subcommands
	Ask       AskCmd       `cmd:"" help:"Ask the assistant a question"`
	Cmdgen    CmdgenCmd    `cmd:"" help:"Generate a shell command from a description"`
	ConfigCmd ConfigFileCmd `cmd:"" name:"config" help:"Manage the config file"`
}

// APIConfig holds the LLM endpoint configuration.
type APIConfig struct {
	URL              string  `help:"Chat completions endpoint or base URL" default:"http://localhost:11434/v1" env:"KITERM_API_URL" yaml:"url"`
	Key              string  `help:"API key (empty for local endpoints)" env:"KITERM_API_KEY" yaml:"key"`
	Model            string  `help:"Model name" default:"llama3.2" env:"KITERM_MODEL" yaml:"model"`
	MaxTokens        int     `help:"Maximum response tokens" default:"1000" yaml:"maxTokens"`
	Temperature      float64 `help:"Sampling temperature" default:"0.7" yaml:"temperature"`
	Stream           bool    `help:"Stream responses incrementally" default:"true" negatable:"" yaml:"stream"`
	TimeoutSeconds   int     `help:"Request timeout in seconds" default:"60" yaml:"timeoutSeconds"`
	UpdateIntervalMs int     `help:"Minimum milliseconds between progress updates" default:"50" yaml:"updateIntervalMs"`
}

// LoadConfigFile loads configuration from a YAML file into the CLI
// struct. If the path is empty, this is a no-op.
func LoadConfigFile(path string, cli *CLI) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cli); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

// ValidateConfigVersion checks that the config file version is supported.
func ValidateConfigVersion(version string) error {
	if version == "" {
		return fmt.Errorf("config file missing 'version' field (expected: %s)", ConfigVersion)
	}

	switch version {
	case "v1":
		return nil
	default:
		return fmt.Errorf("unsupported config version %q (supported: %s)", version, ConfigVersion)
	}
}

// DefaultConfigPath returns the config file location used when
// --config is not given.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(dir, "kiterm", "config.yaml"), nil
}

// CreateEngine builds the request engine from the configuration.
func (cli *CLI) CreateEngine() *chat.Engine {
	return chat.NewEngine(chat.Options{
		Timeout:        time.Duration(cli.API.TimeoutSeconds) * time.Second,
		UpdateInterval: time.Duration(cli.API.UpdateIntervalMs) * time.Millisecond,
	})
}

// BuildSpec assembles a request spec for the given conversation.
func (cli *CLI) BuildSpec(messages []chat.Message, stream bool) chat.RequestSpec {
	return chat.RequestSpec{
		URL:         cli.API.URL,
		APIKey:      expandEnv(cli.API.Key),
		Model:       cli.API.Model,
		Messages:    messages,
		MaxTokens:   cli.API.MaxTokens,
		Temperature: cli.API.Temperature,
		Stream:      stream,
	}
}

// expandEnv resolves ${VAR} or $VAR so config files can reference an
// API key without embedding it.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}
