package chat

import (
	"sync"
	"time"
)

// throttle coalesces a rapid sequence of text updates into a
// bounded-rate stream with a minimum spacing between deliveries. It
// keeps a single pending slot, not a queue: every update carries the
// full accumulated text, so only the latest matters. Total delivery
// count is bounded by wall-clock duration over the interval,
// independent of producer rate.
//
// notify, flush, and stop must all be called from the producer
// goroutine. Deliveries come from two goroutines (the producer and the
// deferred timer), so deliverMu is held across every deliver call:
// deliveries never interleave or reorder, and once flush or stop
// returns no further delivery is in flight.
type throttle struct {
	interval time.Duration
	deliver  func(string)

	deliverMu sync.Mutex

	mu         sync.Mutex
	last       time.Time
	pending    string
	hasPending bool
	timer      *time.Timer
	stopped    bool
}

func newThrottle(interval time.Duration, deliver func(string)) *throttle {
	return &throttle{interval: interval, deliver: deliver}
}

// notify records text as the latest value. It delivers immediately
// when the minimum interval has elapsed and no deferred delivery is
// scheduled; otherwise the pending slot is overwritten and at most one
// timer covers it.
func (t *throttle) notify(text string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	if t.timer == nil && now.Sub(t.last) >= t.interval {
		t.last = now
		t.mu.Unlock()
		t.deliverMu.Lock()
		t.deliver(text)
		t.deliverMu.Unlock()
		return
	}
	t.pending = text
	t.hasPending = true
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval-now.Sub(t.last), t.fire)
	}
	t.mu.Unlock()
}

// fire runs on the timer goroutine. deliverMu is taken before the
// state lock so that a flush or stop racing with the timer either
// waits for this delivery or marks the throttle stopped before fire
// reads any state, never both.
func (t *throttle) fire() {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	t.timer = nil
	if t.stopped || !t.hasPending {
		t.mu.Unlock()
		return
	}
	text := t.pending
	t.hasPending = false
	t.last = time.Now()
	t.mu.Unlock()
	t.deliver(text)
}

// flush delivers any pending text unconditionally and shuts the
// throttle down. It waits for an in-flight timer delivery first, so
// the text it delivers is the last the consumer ever sees. The
// completion path calls this before the completion sink.
func (t *throttle) flush() {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	deliver := t.hasPending && !t.stopped
	text := t.pending
	t.hasPending = false
	t.stopped = true
	t.mu.Unlock()
	if deliver {
		t.deliver(text)
	}
}

// stop discards any pending delivery without invoking the sink, for
// the cancelled and errored paths. Like flush, it waits for an
// in-flight timer delivery, so no delivery lands after stop returns.
func (t *throttle) stop() {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.hasPending = false
	t.stopped = true
	t.mu.Unlock()
}
