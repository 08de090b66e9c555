package forced

import "sync"

// completionQueue carries load results from loader goroutines to the main
// goroutine, where drain applies them once per tick.
type completionQueue struct {
	mu     sync.Mutex
	open   bool
	queue  []func()
	buffer []func() // double buffer, swapped on drain
}

func (q *completionQueue) start() {
	q.mu.Lock()
	q.open = true
	q.mu.Unlock()
}

// stop drops queued work; results posted afterwards are discarded.
func (q *completionQueue) stop() {
	q.mu.Lock()
	q.open = false
	q.queue = nil
	q.mu.Unlock()
}

func (q *completionQueue) post(fn func()) {
	q.mu.Lock()
	if q.open {
		q.queue = append(q.queue, fn)
	}
	q.mu.Unlock()
}

// drain runs everything posted before the call. Main goroutine.
func (q *completionQueue) drain() {
	q.mu.Lock()
	work := q.queue
	q.queue = q.buffer[:0]
	q.mu.Unlock()

	for i, fn := range work {
		fn()
		work[i] = nil
	}
	q.buffer = work[:0]
}

func (q *completionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
