package chat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// httpClient is shared by all sessions. Per-request deadlines come
// from the request context, not a client-wide timeout, so that abort
// and timeout remain distinguishable.
var httpClient = &http.Client{}

// errSessionAborted reports that the session was torn down before the
// response could be installed. Callers decide via the cancellation
// flag whether this means "cancelled" or a real failure.
var errSessionAborted = errors.New("session aborted")

// session owns one physical connection for one request/response
// exchange. It is created before the request is sent so that abort can
// interrupt the exchange at any point, including mid-connect, from a
// different goroutine than the one blocked on I/O.
type session struct {
	url     string
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	resp    *http.Response
	scanner *bufio.Scanner
	aborted bool
}

// newSession prepares a session with a wall-clock deadline covering
// the whole exchange: connect, header wait, and every body read.
func newSession(url string, timeout time.Duration) *session {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &session{
		url:     url,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// send issues the POST and returns once response headers arrive.
func (s *session) send(body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &ConnectError{URL: s.url, Err: err}
	}
	req.Header = header

	resp, err := httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &TimeoutError{URL: s.url, Timeout: s.timeout}
		}
		return &ConnectError{URL: s.url, Err: err}
	}

	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		resp.Body.Close()
		return errSessionAborted
	}
	s.resp = resp
	s.scanner = bufio.NewScanner(resp.Body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	s.mu.Unlock()
	return nil
}

// status returns the response status code and reason phrase. Valid
// only after a successful send.
func (s *session) status() (int, string) {
	code := s.resp.StatusCode
	reason := strings.TrimSpace(strings.TrimPrefix(s.resp.Status, strconv.Itoa(code)))
	return code, reason
}

// nextLine returns the next raw line of the response body. It blocks
// on I/O; abort unblocks it with an error, and io.EOF signals a
// cleanly exhausted body.
func (s *session) nextLine() (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// readAll drains the remaining response body, for non-streaming
// responses and for error-detail extraction on non-200 statuses.
func (s *session) readAll() ([]byte, error) {
	return io.ReadAll(s.resp.Body)
}

// abort forcibly tears the exchange down so any blocked connect or
// read fails promptly. Idempotent and safe to call concurrently with
// a read. Whether the resulting error means "cancelled" is decided by
// the caller via the coordinator's flag, not by the error shape.
func (s *session) abort() {
	s.cancel()
	s.mu.Lock()
	closed := s.aborted
	s.aborted = true
	resp := s.resp
	s.mu.Unlock()
	if resp != nil && !closed {
		resp.Body.Close()
	}
}

// isTimeout reports whether err is deadline-induced rather than a
// genuine connectivity failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
