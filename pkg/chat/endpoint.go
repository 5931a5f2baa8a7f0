package chat

import "strings"

const completionsPath = "/chat/completions"

// ResolveEndpoint normalizes a configured base URL into a concrete
// request target. Local inference servers (Ollama's default
// localhost:11434) accept the OpenAI-compatible API under
// /v1/chat/completions, but users typically configure just the base
// URL, so the missing path segments are appended here. Any other URL
// passes through unchanged. Pure string work, no I/O.
func ResolveEndpoint(baseURL string) string {
	if !strings.Contains(baseURL, "localhost:11434") && !strings.Contains(baseURL, "127.0.0.1:11434") {
		return baseURL
	}
	if strings.HasSuffix(baseURL, completionsPath) {
		return baseURL
	}
	url := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(url, "/v1") {
		return url + completionsPath
	}
	return url + "/v1" + completionsPath
}
