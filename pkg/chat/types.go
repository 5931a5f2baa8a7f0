// Package chat implements the request engine for OpenAI-compatible
// chat-completion endpoints: request assembly, incremental decoding of
// streaming responses, rate-limited progress delivery, and mid-flight
// cancellation.
package chat

import (
	"fmt"
	"log/slog"
	"time"
)

// Message roles accepted by the wire protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents one conversation message. Ordering is significant.
type Message struct {
	Role    string
	Content string
}

// RequestSpec describes one chat-completion request. It is built once
// per Send call and not mutated afterwards.
type RequestSpec struct {
	URL         string // base or full endpoint URL
	APIKey      string // empty for local/no-auth endpoints
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stream      bool
}

// Validate checks a spec at the API boundary. buildRequest itself never
// fails; callers are expected to validate before Send.
func (s RequestSpec) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("request spec: URL is required")
	}
	if s.Model == "" {
		return fmt.Errorf("request spec: model is required")
	}
	for i, m := range s.Messages {
		if !ValidRole(m.Role) {
			return fmt.Errorf("request spec: message %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}

// ValidRole reports whether role is one of the wire protocol roles.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ProgressFunc receives the full accumulated text so far. Called from
// the request goroutine; consumers that need a particular thread or
// event loop must marshal onto it themselves.
type ProgressFunc func(text string)

// CompleteFunc receives the final response text, exactly once per
// request unless the request was cancelled.
type CompleteFunc func(text string)

// ErrorFunc receives a terminal failure message, exactly once per
// request unless the request was cancelled.
type ErrorFunc func(msg string)

// Defaults for Options fields left zero.
const (
	DefaultTimeout        = 60 * time.Second
	DefaultUpdateInterval = 50 * time.Millisecond
)

// Options configures an Engine.
type Options struct {
	// Timeout is the wall-clock deadline for the whole request,
	// covering connect and streaming alike.
	Timeout time.Duration

	// UpdateInterval is the minimum spacing between progress
	// deliveries for a streaming request.
	UpdateInterval time.Duration

	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = DefaultUpdateInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
