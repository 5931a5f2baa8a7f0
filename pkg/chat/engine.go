package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// noResponseText is handed to the completion sink when a stream ends
// without having produced any content.
const noResponseText = "No response received or error occurred."

// Engine is the request orchestrator. At most one request is active
// per Engine at any time; starting a new one implicitly cancels the
// previous one. The caller's goroutine is never blocked by network
// I/O: each Send runs on its own goroutine, which terminates when the
// request reaches a terminal state.
type Engine struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	active   *requestHandle
	lastText string
}

// NewEngine creates an engine with the given options. Zero fields take
// the package defaults.
func NewEngine(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{opts: opts, log: opts.Logger}
}

// Send issues a request described by spec. For streaming requests
// onProgress receives rate-limited snapshots of the accumulated text.
// Under every exit path exactly one of onComplete/onError fires, never
// both, never neither — except cancellation, which fires neither (the
// caller that cancelled already knows). Sinks run on the request
// goroutine. Nil sinks are treated as no-ops.
func (e *Engine) Send(spec RequestSpec, onProgress ProgressFunc, onComplete CompleteFunc, onError ErrorFunc) {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	if onComplete == nil {
		onComplete = func(string) {}
	}
	if onError == nil {
		onError = func(string) {}
	}

	handle := newRequestHandle()

	e.mu.Lock()
	prev := e.active
	e.active = handle
	e.lastText = ""
	e.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go e.run(handle, spec, onProgress, onComplete, onError)
}

// Cancel aborts the active request, if any, and reports whether one
// was actually in flight. The cancelled request invokes no sinks.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	handle := e.active
	e.mu.Unlock()
	if handle == nil || handle.isFinished() {
		return false
	}
	handle.cancel()
	return true
}

// LastText returns the text accumulated so far by the current request,
// or the last known text of the previous one. After a mid-stream
// cancellation this is what had arrived before the abort.
func (e *Engine) LastText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastText
}

// setLastText records the accumulated text, but only while handle is
// still the active request: a goroutine that has been superseded or
// cancelled must not clobber text a newer Send owns.
func (e *Engine) setLastText(handle *requestHandle, text string) {
	e.mu.Lock()
	if e.active == handle {
		e.lastText = text
	}
	e.mu.Unlock()
}

func (e *Engine) run(handle *requestHandle, spec RequestSpec, onProgress ProgressFunc, onComplete CompleteFunc, onError ErrorFunc) {
	defer handle.finish()
	defer func() {
		e.mu.Lock()
		if e.active == handle {
			e.active = nil
		}
		e.mu.Unlock()
	}()

	url := ResolveEndpoint(spec.URL)
	body, header := buildRequest(spec)
	log := e.log.With("request", handle.id, "url", url, "model", spec.Model)
	log.Debug("sending request", "stream", spec.Stream, "messages", len(spec.Messages))

	sess := newSession(url, e.opts.Timeout)
	defer sess.abort()

	// Register before sending so a cancel arriving mid-connect can
	// abort the exchange instead of waiting for headers.
	if !handle.register(sess) {
		log.Debug("request cancelled before connect")
		return
	}
	defer handle.clear()

	if err := sess.send(body, header); err != nil {
		if handle.isCancelled() {
			log.Debug("request cancelled during connect")
			return
		}
		log.Error("request failed", "err", err)
		onError(err.Error())
		return
	}

	if code, reason := sess.status(); code != http.StatusOK {
		// Drain the body first: the diagnostic detail lives there.
		detail, _ := sess.readAll()
		if handle.isCancelled() {
			return
		}
		statusErr := &StatusError{Code: code, Reason: reason, URL: url, Body: detail}
		log.Error("request rejected", "status", code)
		onError(statusErr.Error())
		return
	}

	if spec.Stream {
		e.runStreaming(handle, sess, log, onProgress, onComplete, onError)
	} else {
		e.runBuffered(handle, sess, log, onComplete, onError)
	}
}

// chatResponse is the non-streaming response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// runBuffered reads the entire body, parses one JSON object, and
// invokes the completion sink once. No progress callbacks are made.
func (e *Engine) runBuffered(handle *requestHandle, sess *session, log *slog.Logger, onComplete CompleteFunc, onError ErrorFunc) {
	data, err := sess.readAll()
	if err != nil {
		if handle.isCancelled() {
			log.Debug("request cancelled while reading response")
			return
		}
		log.Error("response read failed", "err", err)
		onError(e.classifyReadError(sess, err).Error())
		return
	}
	if handle.isCancelled() {
		return
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil || len(resp.Choices) == 0 {
		if resp.Error != nil {
			log.Error("API returned error payload", "message", resp.Error.Message)
			onError("API error: " + resp.Error.Message)
			return
		}
		// A malformed success response still has diagnostic value;
		// report it through the completion sink rather than failing
		// outright.
		log.Warn("unexpected response shape", "err", err)
		onComplete(fmt.Sprintf("Error parsing API response: %s", strings.TrimSpace(string(data))))
		return
	}

	content := resp.Choices[0].Message.Content
	e.setLastText(handle, content)
	log.Debug("request complete", "chars", len(content))
	onComplete(content)
}

// runStreaming consumes the line stream, funnels deltas through the
// throttle, and completes with the full accumulated text.
func (e *Engine) runStreaming(handle *requestHandle, sess *session, log *slog.Logger, onProgress ProgressFunc, onComplete CompleteFunc, onError ErrorFunc) {
	var accumulated strings.Builder
	th := newThrottle(e.opts.UpdateInterval, func(text string) { onProgress(text) })

loop:
	for {
		// Checked every iteration: after an abort the scanner may still
		// hold buffered lines, and those must not keep emitting deltas
		// once Cancel has returned.
		if handle.isCancelled() {
			th.stop()
			log.Debug("stream cancelled", "chars", accumulated.Len())
			return
		}

		line, err := sess.nextLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Body exhausted without a [DONE] sentinel; treat as a
				// normal end of stream.
				break loop
			}
			th.stop()
			if handle.isCancelled() {
				log.Debug("stream cancelled", "chars", accumulated.Len())
				return
			}
			log.Error("stream read failed", "err", err)
			onError(e.classifyReadError(sess, err).Error())
			return
		}

		switch ev := decodeLine(line); ev.kind {
		case eventDelta:
			accumulated.WriteString(ev.text)
			e.setLastText(handle, accumulated.String())
			th.notify(accumulated.String())
		case eventDone:
			break loop
		case eventMalformed:
			// One bad line must not kill an otherwise-good stream.
			log.Debug("skipping malformed stream line", "line", ev.raw)
		}
	}

	if handle.isCancelled() {
		th.stop()
		return
	}
	th.flush()

	if accumulated.Len() == 0 {
		log.Warn("stream produced no content")
		onComplete(noResponseText)
		return
	}
	log.Debug("stream complete", "chars", accumulated.Len())
	onComplete(accumulated.String())
}

// classifyReadError maps a body-read failure to the transport
// taxonomy. The cancelled case is excluded by the callers before this
// runs, so what remains is either the request deadline or a genuine
// network failure.
func (e *Engine) classifyReadError(sess *session, err error) error {
	if isTimeout(err) {
		return &TimeoutError{URL: sess.url, Timeout: sess.timeout}
	}
	return &StreamError{URL: sess.url, Err: err}
}
