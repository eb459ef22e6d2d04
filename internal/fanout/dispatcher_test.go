package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueRunsTasks(t *testing.T) {
	d := New(slog.New(slog.DiscardHandler), 2, 8)
	defer d.Stop()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		d.Enqueue(Task{
			Name: "count",
			Run: func(ctx context.Context) error {
				ran.Add(1)
				return nil
			},
		})
	}

	assert.Eventually(t, func() bool {
		return ran.Load() == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailingTaskDoesNotBlockOthers(t *testing.T) {
	d := New(slog.New(slog.DiscardHandler), 1, 8)
	defer d.Stop()

	var ran atomic.Int32
	d.Enqueue(Task{
		Name: "bad",
		Run: func(ctx context.Context) error {
			return errors.New("boom")
		},
	})
	d.Enqueue(Task{
		Name: "panics",
		Run: func(ctx context.Context) error {
			panic("very boom")
		},
	})
	d.Enqueue(Task{
		Name: "good",
		Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		},
	})

	assert.Eventually(t, func() bool {
		return ran.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueNeverBlocksWhenQueueIsFull(t *testing.T) {
	d := New(slog.New(slog.DiscardHandler), 1, 1)
	defer d.Stop()

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	d.Enqueue(Task{
		Name: "plug",
		Run: func(ctx context.Context) error {
			defer wg.Done()
			<-release
			return nil
		},
	})

	// The worker is plugged and the queue holds one task; further
	// enqueues must still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Enqueue(Task{Name: "extra", Run: func(ctx context.Context) error { return nil }})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	close(release)
	wg.Wait()
}

func TestStopWaitsForInFlightTasks(t *testing.T) {
	d := New(slog.New(slog.DiscardHandler), 2, 8)

	var finished atomic.Bool
	started := make(chan struct{})
	d.Enqueue(Task{
		Name: "slow",
		Run: func(ctx context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	<-started
	d.Stop()
	assert.True(t, finished.Load(), "Stop returned before the task finished")
}

func TestEnqueueAfterStopIsDropped(t *testing.T) {
	d := New(slog.New(slog.DiscardHandler), 1, 1)
	d.Stop()

	// Must not panic or hang.
	d.Enqueue(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
}
