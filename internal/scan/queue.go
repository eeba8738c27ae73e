package scan

import (
	"context"
	"sync"
)

// WorkItem is one file handed from the enumerator to a worker. Index
// addresses the entry in the result store.
type WorkItem struct {
	Index    int
	Path     string
	Expected []byte
}

// Queue is the bounded hand-off between the single enumerator and the
// hashing workers. Push blocks while the queue is full.
type Queue struct {
	ch        chan WorkItem
	closeOnce sync.Once
}

// NewQueue returns a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan WorkItem, capacity)}
}

// Push adds it, blocking until there is room or ctx ends. Only the producer
// may call Push, and never after Close.
func (q *Queue) Push(ctx context.Context, it WorkItem) error {
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop returns the next item. It reports false once the queue is closed and
// drained, or when ctx ends.
func (q *Queue) Pop(ctx context.Context) (WorkItem, bool) {
	select {
	case it, ok := <-q.ch:
		return it, ok
	case <-ctx.Done():
		return WorkItem{}, false
	}
}

// Close marks the end of input. Items already queued are still delivered.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len is the number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
