package gpool

import (
	"context"
	"sync"

	"github.com/pushkernel/remoteadapter/internal/queue"
)

// Job represents function to be executed in worker.
type Job func()

type worker struct {
	jobs *queue.Queue[Job]
	done chan struct{}
}

func newWorker(jobs *queue.Queue[Job]) *worker {
	return &worker{
		jobs: jobs,
		done: make(chan struct{}),
	}
}

// start runs jobs until a nil Job is dequeued.
func (w *worker) start() {
	go func() {
		defer close(w.done)
		for {
			if w.jobs.Wait(0) == queue.Closed {
				return
			}
			job, ok := w.jobs.Remove()
			if !ok {
				continue
			}
			if job == nil {
				return
			}
			job()
		}
	}()
}

// Pool executes jobs on goroutines. A pool created with a non positive size
// starts a goroutine per job, a pool of size 1 runs jobs strictly in
// submission order, a larger pool runs them on a fixed set of workers.
// Submission never blocks.
type Pool struct {
	mu      sync.Mutex
	closed  bool
	size    int
	workers []*worker
	jobs    *queue.Queue[Job]
	running sync.WaitGroup
}

// NewPool will make a pool of worker goroutines.
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	if size <= 0 {
		return p
	}
	p.jobs = queue.New[Job](64)
	p.workers = make([]*worker, 0, size)
	for i := 0; i < size; i++ {
		w := newWorker(p.jobs)
		w.start()
		p.workers = append(p.workers, w)
	}
	return p
}

// Size returns the configured size.
func (p *Pool) Size() int {
	return p.size
}

// Kind describes the pool policy.
func (p *Pool) Kind() string {
	switch {
	case p.size <= 0:
		return "unlimited"
	case p.size == 1:
		return "sequential"
	default:
		return "fixed"
	}
}

// Submit schedules a job. Returns false if the pool is closed.
func (p *Pool) Submit(job Job) bool {
	if job == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.jobs == nil {
		p.running.Add(1)
		go func() {
			defer p.running.Done()
			job()
		}()
		return true
	}
	return p.jobs.Add(job)
}

// Shutdown stops accepting jobs. Submitted jobs still run.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for range p.workers {
		p.jobs.Add(nil)
	}
}

// Close stops accepting jobs and waits for the submitted ones to complete.
func (p *Pool) Close(ctx context.Context) error {
	p.Shutdown()

	for _, w := range p.workers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
		}
	}

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if p.jobs != nil {
		p.jobs.Close()
	}
	return nil
}
