// Package worker provides the single-consumer task queue that serializes
// signalling-affecting work off of library callback threads.
package worker

import (
	"sync"

	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

// Queue is a FIFO of closures drained by exactly one goroutine, which sleeps
// on a condition variable while empty. WebRTC and WebSocket callbacks arrive
// on library-owned goroutines; posting signalling-affecting work here
// instead of running it inline avoids re-entrant deadlocks against those
// callbacks.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	running bool
	log     logger.Logger
	done    chan struct{}
}

// New creates a Queue and starts its single consumer goroutine.
func New(log logger.Logger) *Queue {
	q := &Queue{
		running: true,
		log:     log,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// AddTask enqueues a closure for later execution on the consumer goroutine.
// Safe to call from any goroutine, including library callbacks.
func (q *Queue) AddTask(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.cond.Signal()
}

// Stop clears the running flag and wakes the consumer, which exits once the
// queue is empty. Queued tasks already present still run before the consumer
// exits; Stop does not wait for that drain. Use Wait to block until it
// completes. AddTask does not check the flag: a task added after Stop runs
// only if the consumer has not exited yet.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.cond.Signal()
}

// Wait blocks until the consumer goroutine has drained every queued task
// and exited.
func (q *Queue) Wait() {
	<-q.done
}

// TaskCount reports the number of tasks currently queued, not counting one
// that may be mid-execution.
func (q *Queue) TaskCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 && q.running {
			q.cond.Wait()
		}
		if len(q.tasks) == 0 && !q.running {
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		q.runTask(task)
	}
}

// runTask executes a single task, recovering a panic to a log line so one
// bad closure cannot take the consumer goroutine down with it.
func (q *Queue) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("worker task panicked",
				logger.Field{Key: "recover", Value: r},
			)
		}
	}()
	task()
}
