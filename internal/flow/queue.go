package flow

import "sync"

// readyQueue holds units whose inputs have all settled. It is unbounded so
// that pushing from an OnSettled callback, which may run on a worker or inside
// Dispatch, never blocks.
type readyQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*unit
	closed bool
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues u. It returns false once the queue is closed.
func (q *readyQueue) push(u *unit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, u)
	q.cond.Signal()
	return true
}

// pop blocks until a unit is available. It returns false when the queue is
// closed and drained.
func (q *readyQueue) pop() (*unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	u := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return u, true
}

func (q *readyQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *readyQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
