package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConnectError reports a failure to establish the connection or send
// the request (DNS failure, refused, TLS handshake).
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("API connection error: %v\nURL: %s", e.Err, e.URL)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutError reports that the wall-clock request deadline was
// exceeded, during connect or mid-stream.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s\nURL: %s", e.Timeout, e.URL)
}

// StreamError reports a network failure while reading the response
// body of an established exchange.
type StreamError struct {
	URL string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("network error during streaming: %v\nURL: %s", e.Err, e.URL)
}

func (e *StreamError) Unwrap() error { return e.Err }

// StatusError reports a non-200 HTTP response. The message carries
// remediation hints for well-known codes plus whatever structured
// error detail the body held.
type StatusError struct {
	Code   int
	Reason string
	URL    string
	Body   []byte
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "API error %d: %s\nURL: %s", e.Code, e.Reason, e.URL)
	if hint := statusHint(e.Code); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	if detail := errorDetail(e.Body); detail != "" {
		b.WriteString("\n\n")
		b.WriteString(detail)
	}
	return b.String()
}

// statusHint returns targeted advice for common failure codes.
func statusHint(code int) string {
	switch code {
	case 404:
		return "For Ollama, make sure to use 'http://localhost:11434/v1/chat/completions' as the API URL."
	case 400:
		return "Check that the model name is correct and available on your LLM instance."
	case 401:
		return "Authentication failed. Check your API key in settings."
	case 429:
		return "Rate limit exceeded. Wait a moment and try again."
	case 500:
		return "Server error. The LLM service might be experiencing issues."
	}
	return ""
}

// errorDetail extracts the error message from a response body,
// preferring the structured {"error": {"message": ...}} shape most
// OpenAI-compatible backends return.
func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return "Error message: " + payload.Error.Message
	}
	return "Response: " + string(body)
}
