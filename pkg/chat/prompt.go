package chat

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the assistant persona for general terminal
// questions. The caller can see the user's terminal, and suggested
// commands may be executed there directly.
const DefaultSystemPrompt = `You are an expert AI assistant in a terminal environment. Your goal is to provide concise, accurate, and actionable command-line assistance.
You can see the terminal that the user is using and the user is able to execute commands you suggest directly in that terminal.
- **Commands**: Provide directly runnable commands within triple backticks (` + "```" + `<shelltype>\n). ALWAYS specifying the shelltype (` + "```" + `bash, ` + "```" + `sh, ` + "```" + `zsh, etc.). Briefly explain their purpose and any important options.
- **Codeblocks**: If the user asks for code or script, provide only the code in a codeblock without any additional explanation.
- **Explanations**: Clearly explain terminal output, errors, and concepts. Offer solutions or next steps.
- **Troubleshooting**: Help diagnose and solve issues. Suggest diagnostic commands if needed.
- **Scripting**: Assist with generating or understanding small scripts (e.g., Bash, Python).
- **Clarity**: If a query is ambiguous, ask for clarification before providing a potentially incorrect or incomplete answer.
- **Brevity**: Be direct and to the point. Avoid unnecessary conversational fluff.`

// CommandSystemPrompt requests a single raw shell command with no
// surrounding prose, for the command-generation flow. Responses that
// cannot be fulfilled use the "ERROR: " convention.
const CommandSystemPrompt = `You are a helpful AI assistant that generates shell commands based on user requests. The user is working in a Linux terminal environment. Generate ONLY the exact shell command that fulfills the user's request. Do not include explanations, markdown formatting, or code blocks. Return ONLY the raw command text that can be directly executed in the terminal. IMPORTANT SECURITY RULES:
1. NEVER include newline characters (\n) or carriage returns (\r) in commands
2. Prefer to use a SINGLE command rather than chained commands (with ; or &&)
3. Avoid command substitution with backticks (` + "`" + `) if possible
4. Avoid command injection risks
If you cannot generate a suitable command, respond with 'ERROR: ' followed by a brief explanation.`

// BuildMessages assembles the ordered message list for one turn: the
// system prompt, then prior conversation history, then the current
// query with the terminal content wrapped into the user message.
// History is owned by the caller; one-shot commands pass nil, while a
// multi-turn session passes its accumulated user/assistant exchanges.
func BuildMessages(systemPrompt string, history []Message, query, terminalContent string) []Message {
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)

	content := query
	if terminalContent != "" {
		content = fmt.Sprintf("Here is my terminal content:\n\n%s\n\nMy question is: %s", terminalContent, query)
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: content})
	return msgs
}

// CommandQuery wraps a natural-language request for the
// command-generation flow.
func CommandQuery(request string) string {
	return fmt.Sprintf("Generate ONLY a shell command for: %s. Return ONLY the command, no explanations or formatting.", request)
}

// SanitizeCommand validates a generated command before it is offered
// for insertion into a terminal. Commands containing line breaks are
// rejected: a newline would execute immediately on paste, before the
// user can review. The model's "ERROR: " refusal convention and stray
// code fences are handled here too.
func SanitizeCommand(raw string) (string, error) {
	cmd := strings.TrimSpace(raw)
	cmd = stripCodeFence(cmd)

	if rest, ok := strings.CutPrefix(cmd, "ERROR:"); ok {
		return "", fmt.Errorf("command generation failed: %s", strings.TrimSpace(rest))
	}
	if cmd == "" {
		return "", errors.New("command generation produced no output")
	}
	if strings.ContainsAny(cmd, "\n\r") {
		return "", errors.New("generated command contains line breaks and was rejected for safety")
	}
	return cmd, nil
}

// stripCodeFence unwraps a single fenced block that a model returns
// despite being told not to.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	inner := strings.TrimPrefix(s, "```")
	inner = strings.TrimSuffix(inner, "```")
	// Drop a language tag on the opening fence line.
	if i := strings.IndexByte(inner, '\n'); i >= 0 {
		first := strings.TrimSpace(inner[:i])
		if !strings.ContainsAny(first, " \t") {
			inner = inner[i+1:]
		}
	}
	return strings.TrimSpace(inner)
}
