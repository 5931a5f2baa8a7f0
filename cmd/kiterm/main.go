// kiterm is a terminal AI assistant client for OpenAI-compatible
// chat-completion endpoints.
package main

import (
	"log"
	"os"

	"github.com/alecthomas/kong"
)

func main() {
	cli := CLI{}

	// First pass: parse to get --config path
	parser, err := kong.New(&cli,
		kong.Name("kiterm"),
		kong.Description("Terminal AI assistant"),
	)
	if err != nil {
		log.Fatalf("failed to create parser: %v", err)
	}

	// First pass ignores errors (we just need the config path)
	_, _ = parser.Parse(os.Args[1:])

	// Load config file (if provided, else the default location when it exists)
	path := cli.Config
	if path == "" {
		if p, err := DefaultConfigPath(); err == nil {
			if _, err := os.Stat(p); err == nil {
				path = p
			}
		}
	}
	if err := LoadConfigFile(path, &cli); err != nil {
		log.Fatalf("failed to load config file: %v", err)
	}

	// Validate version if config was loaded
	if path != "" && cli.Version != "" {
		if err := ValidateConfigVersion(cli.Version); err != nil {
			log.Fatalf("config error: %v", err)
		}
	}

	// Second pass: CLI/env override file values, run subcommand
	ctx := kong.Parse(&cli,
		kong.Name("kiterm"),
		kong.Description("Terminal AI assistant"),
		kong.UsageOnError(),
	)

	setupLogger(cli.LogLevel)

	// Run the selected command
	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
