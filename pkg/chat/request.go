package chat

import (
	"encoding/json"
	"net/http"
)

// chatRequest is the OpenAI chat completion request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// buildRequest assembles the wire payload and headers for a spec.
// Building never fails: the body is a marshal of plain structs, and
// spec validation is the caller's responsibility.
func buildRequest(spec RequestSpec) ([]byte, http.Header) {
	msgs := make([]chatMessage, len(spec.Messages))
	for i, m := range spec.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, _ := json.Marshal(chatRequest{
		Model:       spec.Model,
		Messages:    msgs,
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
		Stream:      spec.Stream,
	})

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if spec.Stream {
		header.Set("Accept", "text/event-stream")
	}
	if spec.APIKey != "" {
		// Send both header forms: OpenAI-compatible backends vary in
		// which one they expect, and sending both avoids having to
		// detect the provider precisely.
		header.Set("Authorization", "Bearer "+spec.APIKey)
		header.Set("api-key", spec.APIKey)
	}
	return body, header
}
