package chat

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func verifyNoLeaks(t *testing.T) {
	t.Helper()
	httpClient.CloseIdleConnections()
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// sseServer streams the given lines with explicit flushes, the way an
// OpenAI-compatible backend delivers chunked completions.
func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// sinkRecorder captures sink invocations for exactly-once assertions.
type sinkRecorder struct {
	mu        sync.Mutex
	progress  []string
	completes []string
	errors    []string
	done      chan struct{}
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{done: make(chan struct{}, 2)}
}

func (r *sinkRecorder) onProgress(text string) {
	r.mu.Lock()
	r.progress = append(r.progress, text)
	r.mu.Unlock()
}

func (r *sinkRecorder) onComplete(text string) {
	r.mu.Lock()
	r.completes = append(r.completes, text)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *sinkRecorder) onError(msg string) {
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *sinkRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(10 * time.Second):
		t.Fatal("no terminal sink invocation within 10s")
	}
}

func (r *sinkRecorder) state() (progress, completes, errs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...),
		append([]string(nil), r.completes...),
		append([]string(nil), r.errors...)
}

func testSpec(url string, stream bool) RequestSpec {
	return RequestSpec{
		URL:       url,
		Model:     "llama3.2",
		Messages:  []Message{{Role: RoleUser, Content: "hi"}},
		MaxTokens: 100,
		Stream:    stream,
	}
}

func TestEngineStreamingHappyPath(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	)

	e := NewEngine(Options{UpdateInterval: time.Nanosecond})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	progress, completes, errs := rec.state()
	require.Empty(t, errs)
	require.Equal(t, []string{"Hello"}, completes, "onComplete must fire exactly once with the full text")
	require.NotEmpty(t, progress)
	require.Equal(t, "Hello", progress[len(progress)-1], "last progress must carry the full accumulated text")

	// Progress snapshots only ever grow.
	for i := 1; i < len(progress); i++ {
		require.True(t, strings.HasPrefix(progress[i], progress[i-1]),
			"accumulated text must be monotonic: %q then %q", progress[i-1], progress[i])
	}
	require.Equal(t, "Hello", e.LastText())
}

func TestEngineStreamingMalformedLineSkipped(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: this is not json`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	)

	e := NewEngine(Options{UpdateInterval: time.Nanosecond})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, errs, "a single malformed line must not abort the stream")
	require.Equal(t, []string{"Hello"}, completes)
}

func TestEngineStreamingEOFWithoutSentinel(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := sseServer(t,
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
	)

	e := NewEngine(Options{UpdateInterval: time.Nanosecond})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, errs)
	require.Equal(t, []string{"partial"}, completes)
}

func TestEngineStreamingEmptyStream(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := sseServer(t, `data: [DONE]`)

	e := NewEngine(Options{UpdateInterval: time.Nanosecond})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, errs)
	require.Len(t, completes, 1)
	require.Equal(t, noResponseText, completes[0])
}

func TestEngineBufferedHappyPath(t *testing.T) {
	defer verifyNoLeaks(t)

	var gotBody string
	var bodyMu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodyMu.Lock()
		gotBody = string(body)
		bodyMu.Unlock()
		io.WriteString(w, `{"choices":[{"message":{"content":"Hi there"}}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, false), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	progress, completes, errs := rec.state()
	require.Empty(t, errs)
	require.Empty(t, progress, "buffered mode makes no progress callbacks")
	require.Equal(t, []string{"Hi there"}, completes)
	bodyMu.Lock()
	defer bodyMu.Unlock()
	require.Contains(t, gotBody, `"stream":false`)
}

func TestEngineBufferedParseErrorReportsDiagnostic(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"unexpected":"shape"}`)
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, false), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, errs, "parse problems surface through onComplete, not onError")
	require.Len(t, completes, 1)
	require.Contains(t, completes[0], "Error parsing API response")
}

func TestEngineHTTPStatusError(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, completes)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "Authentication failed")
	require.Contains(t, errs[0], "bad key")
}

func TestEngineConnectErrorReported(t *testing.T) {
	defer verifyNoLeaks(t)

	e := NewEngine(Options{Timeout: 2 * time.Second})
	rec := newSinkRecorder()
	e.Send(testSpec("http://127.0.0.1:1", true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, completes)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "API connection error")
}

func TestEngineTimeout(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body) // unread body blocks client-disconnect detection
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{Timeout: 100 * time.Millisecond})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)
	rec.wait(t)
	waitForIdle(t, e)

	_, completes, errs := rec.state()
	require.Empty(t, completes, "timeout is an error, not a completion")
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "timed out after 100ms")
}

func TestEngineCancelBeforeBytes(t *testing.T) {
	defer verifyNoLeaks(t)

	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		io.Copy(io.Discard, r.Body) // unread body blocks client-disconnect detection
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)

	<-started
	require.True(t, e.Cancel(), "a request was in flight")

	waitForIdle(t, e)
	progress, completes, errs := rec.state()
	require.Empty(t, progress)
	require.Empty(t, completes, "cancellation fires no completion sink")
	require.Empty(t, errs, "cancellation fires no error sink")
}

func TestEngineCancelMidStream(t *testing.T) {
	defer verifyNoLeaks(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		w.(http.Flusher).Flush()
		io.Copy(io.Discard, r.Body) // unread body blocks client-disconnect detection
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{UpdateInterval: time.Nanosecond})
	rec := newSinkRecorder()
	e.Send(testSpec(srv.URL, true), rec.onProgress, rec.onComplete, rec.onError)

	// Wait until the first delta has been decoded.
	require.Eventually(t, func() bool { return e.LastText() == "Hel" },
		5*time.Second, time.Millisecond)

	require.True(t, e.Cancel())

	waitForIdle(t, e)
	_, completes, errs := rec.state()
	require.Empty(t, completes)
	require.Empty(t, errs)
	require.Equal(t, "Hel", e.LastText(), "accumulated text survives cancellation")
}

// TestEngineCancelStopsBufferedDeltas: deltas already sitting in the
// read buffer when Cancel returns must not keep flowing to the
// progress sink; the decode loop has to observe the flag between
// lines, not only when a read fails.
func TestEngineCancelStopsBufferedDeltas(t *testing.T) {
	defer verifyNoLeaks(t)

	const deltas = 500
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < deltas; i++ {
			fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}
		w.(http.Flusher).Flush()
		io.Copy(io.Discard, r.Body) // unread body blocks client-disconnect detection
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{UpdateInterval: time.Nanosecond})
	rec := newSinkRecorder()
	cancelled := make(chan bool, 1)
	var once sync.Once
	e.Send(testSpec(srv.URL, true),
		func(text string) {
			rec.onProgress(text)
			// Cancel from inside the first delivery, while the rest of
			// the burst is still buffered client-side.
			once.Do(func() { cancelled <- e.Cancel() })
		},
		rec.onComplete, rec.onError)

	require.True(t, <-cancelled, "a request was in flight")
	waitForIdle(t, e)

	progress, completes, errs := rec.state()
	require.Empty(t, completes)
	require.Empty(t, errs)
	require.LessOrEqual(t, len(progress), 2,
		"progress must stop once Cancel has returned, got %d deliveries", len(progress))
}

func TestEngineCancelIdle(t *testing.T) {
	e := NewEngine(Options{})
	require.False(t, e.Cancel(), "no request in flight")
}

func TestEngineNewSendCancelsPrevious(t *testing.T) {
	defer verifyNoLeaks(t)

	firstStarted := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isFirst := false
		once.Do(func() {
			isFirst = true
			close(firstStarted)
		})
		if isFirst {
			// First request hangs until aborted by the second Send.
			io.Copy(io.Discard, r.Body) // unread body blocks client-disconnect detection
			<-r.Context().Done()
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"second"}}]}`)
	}))
	t.Cleanup(srv.Close)

	e := NewEngine(Options{})
	firstRec := newSinkRecorder()
	e.Send(testSpec(srv.URL, false), firstRec.onProgress, firstRec.onComplete, firstRec.onError)
	<-firstStarted

	secondRec := newSinkRecorder()
	e.Send(testSpec(srv.URL, false), secondRec.onProgress, secondRec.onComplete, secondRec.onError)
	secondRec.wait(t)

	waitForIdle(t, e)
	_, completes, errs := firstRec.state()
	require.Empty(t, completes, "superseded request invokes no sinks")
	require.Empty(t, errs)

	_, completes, errs = secondRec.state()
	require.Empty(t, errs)
	require.Equal(t, []string{"second"}, completes)
}

// waitForIdle blocks until the engine's active request has reached a
// terminal state.
func waitForIdle(t *testing.T, e *Engine) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.active == nil
	}, 10*time.Second, time.Millisecond)
}
