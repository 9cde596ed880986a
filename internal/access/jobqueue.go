package access

import (
	"context"
	"sync"
	"time"
)

// job is one queued operation.
type job struct {
	ctx      context.Context
	op       Op
	enqueued time.Time
	done     chan result
}

type result struct {
	err      error
	panicked bool
	panicVal any
}

// jobQueue is a thread-safe unbounded FIFO of jobs.
//
// The signal channel (buffered, size 1) wakes the worker; multiple
// enqueues between wakeups coalesce into one signal.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]*job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends j. Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns the wakeup channel. It is closed by Close.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of waiting jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further jobs and wakes the worker. Jobs already queued
// are still handed out by TryDequeue.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
