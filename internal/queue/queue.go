package queue

import (
	"sync"
	"time"
)

// WaitResult is the outcome of Wait.
type WaitResult int

const (
	// Ready means at least one item can be removed.
	Ready WaitResult = iota
	// TimedOut means the timeout expired with the queue still empty.
	TimedOut
	// Closed means the queue has been closed.
	Closed
)

// Queue is an unbounded FIFO queue of T with front insertion for priority
// items. Producers never block; consumers may wait with a timeout.
// The queue is goroutine safe.
// Inspired by http://blog.dubbelboer.com/2015/04/25/go-faster-queue.html (MIT)
type Queue[T any] struct {
	mu      sync.RWMutex
	nodes   []T
	head    int
	tail    int
	cnt     int
	closed  bool
	initCap int
	// ready holds a pending wake-up for one waiter.
	ready chan struct{}
	done  chan struct{}
}

// New Queue returns a new queue with initial capacity.
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		initCap: initialCapacity,
		nodes:   make([]T, initialCapacity),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// mutex must be held when calling.
func (q *Queue[T]) resize(n int) {
	nodes := make([]T, n)
	if q.cnt > 0 {
		if q.head < q.tail {
			copy(nodes, q.nodes[q.head:q.tail])
		} else {
			copy(nodes, q.nodes[q.head:])
			copy(nodes[len(q.nodes)-q.head:], q.nodes[:q.tail])
		}
	}
	q.tail = q.cnt % n
	q.head = 0
	q.nodes = nodes
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Add an item to the back of the queue. Returns false if the queue is
// closed, in that case the item is dropped.
func (q *Queue[T]) Add(i T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.cnt == len(q.nodes) {
		q.resize(q.cnt * 2)
	}
	q.nodes[q.tail] = i
	q.tail = (q.tail + 1) % len(q.nodes)
	q.cnt++
	q.mu.Unlock()
	q.signal()
	return true
}

// AddFirst puts an item at the front of the queue, so that it is removed
// before anything already queued.
func (q *Queue[T]) AddFirst(i T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.cnt == len(q.nodes) {
		q.resize(q.cnt * 2)
	}
	q.head = (q.head - 1 + len(q.nodes)) % len(q.nodes)
	q.nodes[q.head] = i
	q.cnt++
	q.mu.Unlock()
	q.signal()
	return true
}

// Close the queue and discard all entries in the queue.
// All goroutines in Wait will return.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cnt = 0
	q.nodes = nil
	close(q.done)
}

// Closed returns true if the queue has been closed.
func (q *Queue[T]) Closed() bool {
	q.mu.RLock()
	c := q.closed
	q.mu.RUnlock()
	return c
}

// Wait until an item is available, the queue is closed or timeout expires.
// A non positive timeout waits indefinitely.
func (q *Queue[T]) Wait(timeout time.Duration) WaitResult {
	if r, ok := q.state(); ok {
		return r
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case <-q.ready:
		case <-q.done:
			return Closed
		case <-expired:
			if r, ok := q.state(); ok {
				return r
			}
			return TimedOut
		}
		if r, ok := q.state(); ok {
			return r
		}
	}
}

func (q *Queue[T]) state() (WaitResult, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Closed, true
	}
	if q.cnt > 0 {
		return Ready, true
	}
	return 0, false
}

// Remove will remove an item from the queue.
// If false is returned, it either means 1) there were no items on the queue
// or 2) the queue is closed.
func (q *Queue[T]) Remove() (T, bool) {
	var zero T
	q.mu.Lock()
	if q.cnt == 0 {
		q.mu.Unlock()
		return zero, false
	}
	i := q.nodes[q.head]
	q.nodes[q.head] = zero
	q.head = (q.head + 1) % len(q.nodes)
	q.cnt--

	if n := len(q.nodes) / 2; n >= q.initCap && q.cnt <= n {
		q.resize(n)
	}
	more := q.cnt > 0
	q.mu.Unlock()
	if more {
		// Pass the wake-up on to another waiter.
		q.signal()
	}
	return i, true
}

// Cap returns the capacity (without allocations).
func (q *Queue[T]) Cap() int {
	q.mu.RLock()
	c := cap(q.nodes)
	q.mu.RUnlock()
	return c
}

// Len returns the current length of the queue.
func (q *Queue[T]) Len() int {
	q.mu.RLock()
	l := q.cnt
	q.mu.RUnlock()
	return l
}
