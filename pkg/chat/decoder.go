package chat

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

type eventKind int

const (
	// eventSkip covers blank lines, keepalives, and chunks with no
	// text fragment.
	eventSkip eventKind = iota
	// eventDelta carries an incremental text fragment.
	eventDelta
	// eventDone is the stream-termination sentinel.
	eventDone
	// eventMalformed is an unparseable line; it is logged and skipped,
	// never fatal for the stream.
	eventMalformed
)

// streamEvent is one parsed unit of the wire stream. Transient; not
// retained past decoding.
type streamEvent struct {
	kind eventKind
	text string // delta fragment, for eventDelta
	raw  string // original payload, for eventMalformed
}

// streamChunk covers both response shapes seen from OpenAI-compatible
// backends: delta-content-in-choice and flat-text-in-choice.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text string `json:"text"`
	} `json:"choices"`
}

// decodeLine classifies one raw line from the response body. The
// transport guarantees line buffering, so a line is always a complete
// protocol unit; this never blocks waiting for more input.
func decodeLine(line string) streamEvent {
	line = strings.TrimSpace(line)
	if line == "" {
		return streamEvent{kind: eventSkip}
	}
	line = strings.TrimPrefix(line, dataPrefix)
	if line == doneSentinel {
		return streamEvent{kind: eventDone}
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(line), &chunk); err != nil {
		return streamEvent{kind: eventMalformed, raw: line}
	}
	if len(chunk.Choices) == 0 {
		return streamEvent{kind: eventSkip}
	}
	if content := chunk.Choices[0].Delta.Content; content != "" {
		return streamEvent{kind: eventDelta, text: content}
	}
	if content := chunk.Choices[0].Text; content != "" {
		return streamEvent{kind: eventDelta, text: content}
	}
	return streamEvent{kind: eventSkip}
}
