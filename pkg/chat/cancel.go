package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// requestHandle identifies one in-flight request: the cancellation
// flag plus the live session, which cancel force-closes so blocking
// reads unblock promptly. The flag and the session slot are the only
// state shared between the caller and the request goroutine.
type requestHandle struct {
	id      string
	started time.Time

	cancelled atomic.Bool
	finished  atomic.Bool

	mu   sync.Mutex
	sess *session
}

func newRequestHandle() *requestHandle {
	return &requestHandle{
		id:      uuid.New().String()[:8],
		started: time.Now(),
	}
}

// register installs the active session. It returns false when the
// handle was cancelled before the session could be installed, in
// which case the caller must tear the session down itself.
func (h *requestHandle) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled.Load() {
		return false
	}
	h.sess = s
	return true
}

// clear drops the session reference once it is closed.
func (h *requestHandle) clear() {
	h.mu.Lock()
	h.sess = nil
	h.mu.Unlock()
}

// cancel sets the flag, then aborts whatever session is registered.
// Setting the flag first guarantees the reading side, once its read
// fails, observes the flag as set and unwinds silently.
func (h *requestHandle) cancel() {
	h.cancelled.Store(true)
	h.mu.Lock()
	s := h.sess
	h.sess = nil
	h.mu.Unlock()
	if s != nil {
		s.abort()
	}
}

func (h *requestHandle) isCancelled() bool {
	return h.cancelled.Load()
}

// finish marks the handle terminal (completed, errored, cancelled, or
// timed out).
func (h *requestHandle) finish() {
	h.finished.Store(true)
}

func (h *requestHandle) isFinished() bool {
	return h.finished.Load()
}
