package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/kiterm/kiterm/pkg/chat"
)

// CmdgenCmd asks the model for a single shell command matching a
// natural-language description and prints it after sanitization.
type CmdgenCmd struct {
	Request []string `arg:"" help:"Description of the command to generate"`
}

// Run executes the cmdgen command.
func (c *CmdgenCmd) Run(cli *CLI) error {
	request := strings.Join(c.Request, " ")

	messages := chat.BuildMessages(chat.CommandSystemPrompt, nil, chat.CommandQuery(request), "")
	// Buffered mode: only the final command text matters here.
	spec := cli.BuildSpec(messages, false)
	if err := spec.Validate(); err != nil {
		return err
	}

	slog.Debug("generating command", "request", request)
	engine := cli.CreateEngine()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	engine.Send(spec, nil,
		func(text string) { done <- result{text: text} },
		func(msg string) { done <- result{err: errors.New(msg)} },
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	var res result
	select {
	case res = <-done:
	case <-sig:
		engine.Cancel()
		return nil
	}
	if res.err != nil {
		return res.err
	}

	cmd, err := chat.SanitizeCommand(res.text)
	if err != nil {
		return err
	}
	fmt.Println(cmd)
	return nil
}
