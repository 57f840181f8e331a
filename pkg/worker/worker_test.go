package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dhelmrich/UnrealReceiver/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.NewDefaultLogger(logger.ErrorLevel, "text")
}

func TestFIFOOrdering(t *testing.T) {
	q := New(testLogger())

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(5)

	for i := 0; i < 5; i++ {
		i := i
		q.AddTask(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}

	wg.Wait()
	q.Stop()
	q.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("FIFO order violated: got %v, want [0 1 2 3 4]", order)
		}
	}
}

func TestStopDrainsPendingTasks(t *testing.T) {
	q := New(testLogger())

	var ran int32
	for i := 0; i < 10; i++ {
		q.AddTask(func() {
			atomic.AddInt32(&ran, 1)
		})
	}
	q.Stop()
	q.Wait()

	if got := atomic.LoadInt32(&ran); got != 10 {
		t.Fatalf("ran = %d, want 10 (all pending tasks should drain before exit)", got)
	}
}

func TestTaskCount(t *testing.T) {
	q := New(testLogger())

	block := make(chan struct{})
	q.AddTask(func() { <-block })

	// give the consumer a moment to pick up the blocking task
	time.Sleep(10 * time.Millisecond)

	q.AddTask(func() {})
	q.AddTask(func() {})

	if n := q.TaskCount(); n != 2 {
		t.Fatalf("TaskCount = %d, want 2", n)
	}

	close(block)
	q.Stop()
	q.Wait()
}

func TestAddTaskFromCallback(t *testing.T) {
	q := New(testLogger())
	var wg sync.WaitGroup
	wg.Add(1)

	// simulate a library callback goroutine posting work
	go func() {
		q.AddTask(func() { wg.Done() })
	}()

	wg.Wait()
	q.Stop()
	q.Wait()
}
