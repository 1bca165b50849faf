package router

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/evalforge/backend/eval"
)

type task struct {
	ev         eval.Evaluation
	seq        int64     // submission order, breaks ties within a priority
	attempt    int       // capacity-retry count
	enqueuedAt time.Time // first enqueue, anchors the queue SLA

	cancelReason string // written before cancelled is set, read after it is observed
	cancelled    atomic.Bool

	index int // heap bookkeeping
}

// taskHeap implements heap.Interface. Higher declared priority is dequeued
// first; within equal priority, FIFO by submission sequence.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].ev.Priority != h[j].ev.Priority {
		return h[i].ev.Priority > h[j].ev.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

// Push adds a task. Called by heap.Push — do not call directly.
func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

// Pop removes the highest-priority task. Called by heap.Pop — do not call directly.
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // avoid memory leak
	t.index = -1
	*h = old[:n-1]
	return t
}

// queue is the blocking priority queue the router workers pull from.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   taskHeap
	byID   map[uuid.UUID]*task
	closed bool
}

func newQueue() *queue {
	q := &queue{byID: make(map[uuid.UUID]*task)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(t *task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.heap, t)
	q.byID[t.ev.ID] = t
	q.cond.Signal()
}

// pop blocks until a task is available or the queue is closed.
func (q *queue) pop() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.heap) == 0 {
		return nil, false
	}
	t := heap.Pop(&q.heap).(*task)
	delete(q.byID, t.ev.ID)
	return t, true
}

// remove takes a still-queued task out without dispatching it.
func (q *queue) remove(id uuid.UUID) (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.heap, t.index)
	delete(q.byID, id)
	return t, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
