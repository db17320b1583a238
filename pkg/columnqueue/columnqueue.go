// Package columnqueue implements the per-rank FIFO of in-flight
// H-columns that circulate between worker ranks (§4.2).
package columnqueue

import (
	"container/list"
	"sync"

	"github.com/launix-de/nomad-sgd/pkg/model"
)

// Queue is a single rank's FIFO of columns awaiting processing. Pushes
// from a given source rank are delivered in order (§4.2); ordering across
// different sources is not guaranteed, nor required.
type Queue struct {
	mu    sync.Mutex
	items *list.List
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: list.New()}
}

// Enqueue places a column at the back of the local queue. Called (via
// worker.Loop.Deliver) when a pushed column arrives at this rank, whether
// forwarded by another worker or seeded by the coordinator.
func (q *Queue) Enqueue(col model.Column) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(col)
}

// TryPop removes and returns the column at the front of the queue. The
// second return value is false if the queue is empty; this call never
// blocks.
func (q *Queue) TryPop() (model.Column, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return model.Column{}, false
	}
	q.items.Remove(front)
	return front.Value.(model.Column), true
}

// Len returns the number of columns currently queued locally. Used by
// the worker loop to set the queue-depth metric.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
