package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileCmd groups config file management subcommands.
type ConfigFileCmd struct {
	Init ConfigInitCmd `cmd:"" help:"Write a default config file"`
	Path ConfigPathCmd `cmd:"" help:"Print the config file location"`
}

// ConfigInitCmd writes the current (default + flag + env) settings as
// a config file so they persist across runs.
type ConfigInitCmd struct {
	Force bool `help:"Overwrite an existing config file"`
}

// fileConfig is the on-disk config shape.
type fileConfig struct {
	Version string    `yaml:"version"`
	API     APIConfig `yaml:"api"`
}

// Run executes config init.
func (c *ConfigInitCmd) Run(cli *CLI) error {
	path := cli.Config
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	if !c.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(fileConfig{Version: ConfigVersion, API: cli.API})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// 0600: the file may hold an API key.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}

// ConfigPathCmd prints where the config file is looked up.
type ConfigPathCmd struct{}

// Run executes config path.
func (c *ConfigPathCmd) Run(cli *CLI) error {
	if cli.Config != "" {
		fmt.Println(cli.Config)
		return nil
	}
	path, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
