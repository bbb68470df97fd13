package am43

import (
	"sync"

	"github.com/mlsorensen/goam43"
)

// waiter is one request waiting for a reply of a given kind. ch has room for the
// single event that resolves it.
type waiter struct {
	kind goam43.EventKind
	ch   chan goam43.Event
}

// pendingRequests queues waiters per event kind. A reply resolves the oldest
// waiter of its kind, so same-kind requests are answered in the order they were
// issued.
type pendingRequests struct {
	mu     sync.Mutex
	queues map[goam43.EventKind][]*waiter
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{queues: make(map[goam43.EventKind][]*waiter)}
}

func (p *pendingRequests) enqueue(kind goam43.EventKind) *waiter {
	w := &waiter{kind: kind, ch: make(chan goam43.Event, 1)}
	p.mu.Lock()
	p.queues[kind] = append(p.queues[kind], w)
	p.mu.Unlock()
	return w
}

// resolve hands ev to the oldest waiter of its kind and reports whether there
// was one.
func (p *pendingRequests) resolve(ev goam43.Event) bool {
	p.mu.Lock()
	q := p.queues[ev.Kind]
	if len(q) == 0 {
		p.mu.Unlock()
		return false
	}
	w := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(p.queues, ev.Kind)
	} else {
		p.queues[ev.Kind] = q[1:]
	}
	p.mu.Unlock()

	w.ch <- ev
	return true
}

// cancel removes w if it is still queued. It returns false when w has already
// been resolved, in which case its event is waiting on w.ch.
func (p *pendingRequests) cancel(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.queues[w.kind]
	for i, queued := range q {
		if queued != w {
			continue
		}
		q = append(q[:i], q[i+1:]...)
		if len(q) == 0 {
			delete(p.queues, w.kind)
		} else {
			p.queues[w.kind] = q
		}
		return true
	}
	return false
}

// waiting reports the number of queued waiters of kind.
func (p *pendingRequests) waiting(kind goam43.EventKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queues[kind])
}
