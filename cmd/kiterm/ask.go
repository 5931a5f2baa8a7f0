package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/kiterm/kiterm/pkg/chat"
)

// errInterrupted marks an exchange the user cancelled with Ctrl-C. It
// is not an error to report, just a turn that produced no answer.
var errInterrupted = errors.New("interrupted")

// AskCmd sends a question to the configured endpoint and prints the
// answer, streaming it incrementally unless disabled. With
// --interactive the session stays open and follow-up questions carry
// the conversation so far.
type AskCmd struct {
	Query               []string `arg:"" optional:"" help:"Question for the assistant"`
	TerminalContentFile string   `help:"File whose contents are attached as terminal context" type:"path"`
	NoStream            bool     `help:"Wait for the complete response instead of streaming"`
	Interactive         bool     `short:"i" help:"Keep the session open for follow-up questions"`
}

// Run executes the ask command.
func (c *AskCmd) Run(cli *CLI) error {
	var terminalContent string
	if c.TerminalContentFile != "" {
		data, err := os.ReadFile(c.TerminalContentFile)
		if err != nil {
			return fmt.Errorf("read terminal content: %w", err)
		}
		terminalContent = string(data)
	}

	engine := cli.CreateEngine()
	stream := cli.API.Stream && !c.NoStream
	query := strings.Join(c.Query, " ")

	if !c.Interactive {
		if query == "" {
			return errors.New("question required (or use --interactive)")
		}
		_, err := c.exchange(cli, engine, nil, query, terminalContent, stream)
		if errors.Is(err, errInterrupted) {
			return nil
		}
		return err
	}

	var history []chat.Message
	stdin := bufio.NewScanner(os.Stdin)
	for {
		if query == "" {
			fmt.Print("> ")
			if !stdin.Scan() {
				fmt.Println()
				return stdin.Err()
			}
			query = strings.TrimSpace(stdin.Text())
			if query == "" {
				continue
			}
			if query == "exit" || query == "quit" {
				return nil
			}
		}

		answer, err := c.exchange(cli, engine, history, query, terminalContent, stream)
		switch {
		case errors.Is(err, errInterrupted):
			// Cancelled turns leave no trace in the history.
		case err != nil:
			fmt.Fprintln(os.Stderr, err)
		default:
			history = append(history,
				chat.Message{Role: chat.RoleUser, Content: query},
				chat.Message{Role: chat.RoleAssistant, Content: answer},
			)
		}

		query = ""
		// Terminal context is attached to the first turn only; the
		// model keeps it through the history.
		terminalContent = ""
	}
}

// exchange runs one question/answer round trip and returns the full
// answer text.
func (c *AskCmd) exchange(cli *CLI, engine *chat.Engine, history []chat.Message, query, terminalContent string, stream bool) (string, error) {
	messages := chat.BuildMessages(chat.DefaultSystemPrompt, history, query, terminalContent)
	spec := cli.BuildSpec(messages, stream)
	if err := spec.Validate(); err != nil {
		return "", err
	}

	slog.Debug("asking", "query", query, "stream", stream, "history", len(history))

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	printed := 0 // only touched under the engine's delivery ordering
	engine.Send(spec,
		func(text string) {
			fmt.Print(text[printed:])
			printed = len(text)
		},
		func(text string) {
			if len(text) > printed {
				fmt.Print(text[printed:])
			}
			fmt.Println()
			done <- result{text: text}
		},
		func(msg string) {
			done <- result{err: errors.New(msg)}
		},
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	select {
	case res := <-done:
		return res.text, res.err
	case <-sig:
		if engine.Cancel() {
			fmt.Fprintln(os.Stderr, "\nrequest cancelled")
		}
		return "", errInterrupted
	}
}
