// Package fanout runs background work on a bounded worker pool. Event
// fan-out (notification routing, webhook delivery) and per-row sweep
// work go through it so that one slow or failing task never blocks a
// lifecycle transition or the rest of a sweep batch.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one failure-isolated unit of background work.
type Task struct {
	// Name identifies the task in logs.
	Name string

	// Run does the work. Errors are logged, never propagated.
	Run func(ctx context.Context) error
}

// Dispatcher owns a fixed pool of workers draining a task channel.
type Dispatcher struct {
	logger  *slog.Logger
	tasks   chan Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a Dispatcher with the given worker count and queue
// depth.
func New(logger *slog.Logger, workers, queueDepth int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}

	d := &Dispatcher{
		logger: logger,
		tasks:  make(chan Task, queueDepth),
		stopCh: make(chan struct{}),
	}

	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

// Enqueue hands a task to the pool. It never blocks the caller: if the
// queue is full the hand-off happens on a fresh goroutine so the
// triggering transition returns immediately either way.
func (d *Dispatcher) Enqueue(task Task) {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		d.logger.Warn("fanout: task enqueued after stop, dropping", "task", task.Name)
		return
	}

	select {
	case d.tasks <- task:
	default:
		go func() {
			select {
			case d.tasks <- task:
			case <-d.stopCh:
				d.logger.Warn("fanout: dropping task at shutdown", "task", task.Name)
			}
		}()
	}
}

// Stop shuts down the pool and waits for in-flight tasks to finish.
// Queued tasks that have not started are discarded.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	d.wg.Wait()
}

// worker drains the task channel until stopped.
func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.stopCh:
			return
		case task := <-d.tasks:
			d.run(task)
		}
	}
}

// run executes one task, isolating errors and panics.
func (d *Dispatcher) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("fanout: task panicked",
				"task", task.Name,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := task.Run(context.Background()); err != nil {
		d.logger.Error("fanout: task failed",
			"task", task.Name,
			"error", err,
		)
	}
}
