package chat

import (
	"strings"
	"testing"
)

func TestBuildMessagesOrder(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
	}
	msgs := BuildMessages(DefaultSystemPrompt, history, "why?", "$ ls\nfoo bar")

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[0].Content != DefaultSystemPrompt {
		t.Error("expected system prompt first")
	}
	if msgs[1].Content != "first question" || msgs[2].Content != "first answer" {
		t.Error("expected history preserved in order")
	}
	last := msgs[3]
	if last.Role != RoleUser {
		t.Errorf("expected user role for current turn, got %q", last.Role)
	}
	if !strings.Contains(last.Content, "$ ls\nfoo bar") {
		t.Error("expected terminal content embedded in user message")
	}
	if !strings.Contains(last.Content, "My question is: why?") {
		t.Error("expected query embedded in user message")
	}
}

func TestBuildMessagesNoTerminalContent(t *testing.T) {
	msgs := BuildMessages(DefaultSystemPrompt, nil, "hello", "")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "hello" {
		t.Errorf("expected bare query when no terminal content, got %q", msgs[1].Content)
	}
}

func TestSanitizeCommand(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "ls -la", "ls -la", false},
		{"surrounding whitespace", "  df -h \n", "df -h", false},
		{"fenced", "```bash\ndu -sh .\n```", "du -sh .", false},
		{"fenced no language", "```\nuptime\n```", "uptime", false},
		{"refusal", "ERROR: cannot delete the root filesystem", "", true},
		{"embedded newline", "rm x\nrm y", "", true},
		{"carriage return", "echo hi\rrm -rf /", "", true},
		{"empty", "   ", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeCommand(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got command %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSanitizeCommandRefusalMessage(t *testing.T) {
	_, err := SanitizeCommand("ERROR: request too ambiguous")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "request too ambiguous") {
		t.Errorf("expected refusal reason in error, got %q", err.Error())
	}
}
