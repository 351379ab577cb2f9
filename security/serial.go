package security

import "sync"

// serial runs the work queued for one device, one item at a time, in
// arrival order. Whoever finds the queue idle drains it; everyone else only
// appends. Work may queue more work for the same device.
type serial struct {
	mu      sync.Mutex
	queue   []func()
	running bool

	refs int // guarded by Manager.mu
}

func (q *serial) push(f func()) {
	q.mu.Lock()
	q.queue = append(q.queue, f)
	q.mu.Unlock()
}

func (q *serial) drain() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	for len(q.queue) > 0 {
		f := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		f()

		q.mu.Lock()
	}
	q.running = false
	q.mu.Unlock()
}
