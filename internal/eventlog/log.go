// Package eventlog is the append-only audit record store. Every
// lifecycle transition commits exactly one event; committed events are
// announced to registered consumers (notification routing, webhook
// delivery) as independent background tasks whose failures never reach
// the transition that produced the event.
package eventlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/cardflow/internal/fanout"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
)

// Consumer reacts to a committed event.
type Consumer interface {
	// Name identifies the consumer in logs.
	Name() string

	// HandleEvent processes one committed event. It must be safe to
	// call again with the same event.
	HandleEvent(ctx context.Context, ev *model.Event) error
}

// Log appends immutable events and fans them out.
type Log struct {
	store      store.Store
	dispatcher *fanout.Dispatcher
	logger     *slog.Logger

	mu        sync.RWMutex
	consumers []Consumer
}

// New creates an event log over the given store and dispatcher.
func New(s store.Store, d *fanout.Dispatcher, logger *slog.Logger) *Log {
	return &Log{
		store:      s,
		dispatcher: d,
		logger:     logger,
	}
}

// Subscribe registers a consumer for future committed events.
func (l *Log) Subscribe(c Consumer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumers = append(l.consumers, c)
}

// Append persists a standalone event and announces it. This is the
// path for events that are not tied to a card transition; the only
// caller outside the core is comment creation, which records
// comment_created through this API.
func (l *Log) Append(ctx context.Context, ev *model.Event) (*model.Event, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	persisted, err := l.store.AppendEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	l.Announce(persisted)
	return persisted, nil
}

// Announce hands a committed event to every consumer as its own
// fire-and-forget task. It never blocks and never fails: consumer
// errors are logged by the dispatcher and stay isolated from the
// transition that committed the event.
func (l *Log) Announce(ev *model.Event) {
	l.mu.RLock()
	consumers := make([]Consumer, len(l.consumers))
	copy(consumers, l.consumers)
	l.mu.RUnlock()

	for _, c := range consumers {
		consumer := c
		event := *ev
		l.dispatcher.Enqueue(fanout.Task{
			Name: consumer.Name(),
			Run: func(ctx context.Context) error {
				return consumer.HandleEvent(ctx, &event)
			},
		})
	}
}
