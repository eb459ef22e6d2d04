package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/cardflow/internal/fanout"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/tests/testutil"
)

// recordingConsumer captures every event it is handed.
type recordingConsumer struct {
	name string
	err  error

	mu     sync.Mutex
	events []model.Event
}

func (c *recordingConsumer) Name() string { return c.name }

func (c *recordingConsumer) HandleEvent(_ context.Context, ev *model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *ev)
	return c.err
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestLog(t *testing.T) *Log {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	dispatcher := fanout.New(logger, 2, 16)
	t.Cleanup(dispatcher.Stop)

	return New(testutil.NewTestStore(t), dispatcher, logger)
}

func TestAppendPersistsAndAnnounces(t *testing.T) {
	log := newTestLog(t)
	consumer := &recordingConsumer{name: "recorder"}
	log.Subscribe(consumer)

	ev, err := log.Append(context.Background(), &model.Event{
		TenantID: "acct-1",
		BoardID:  "board-1",
		Actor:    "alice",
		Action:   model.ActionCommentCreated,
		Subject:  model.Subject{Kind: model.SubjectComment, ID: "comment-1"},
		Metadata: map[string]any{model.MetaCardID: "card-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())

	assert.Eventually(t, func() bool {
		return consumer.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := log.store.GetEvent(context.Background(), "acct-1", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCommentCreated, stored.Action)
}

func TestAnnounceReachesEveryConsumer(t *testing.T) {
	log := newTestLog(t)
	first := &recordingConsumer{name: "first"}
	second := &recordingConsumer{name: "second"}
	log.Subscribe(first)
	log.Subscribe(second)

	log.Announce(&model.Event{
		ID:       "ev-1",
		TenantID: "acct-1",
		BoardID:  "board-1",
		Actor:    "alice",
		Action:   model.ActionCardClosed,
		Subject:  model.Subject{Kind: model.SubjectCard, ID: "card-1"},
	})

	assert.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailingConsumerDoesNotStopTheOthers(t *testing.T) {
	log := newTestLog(t)
	bad := &recordingConsumer{name: "bad", err: errors.New("handler broke")}
	good := &recordingConsumer{name: "good"}
	log.Subscribe(bad)
	log.Subscribe(good)

	for i := 0; i < 3; i++ {
		log.Announce(&model.Event{
			ID:       "ev-" + string(rune('a'+i)),
			TenantID: "acct-1",
			BoardID:  "board-1",
			Actor:    "alice",
			Action:   model.ActionCardClosed,
			Subject:  model.Subject{Kind: model.SubjectCard, ID: "card-1"},
		})
	}

	assert.Eventually(t, func() bool {
		return good.count() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConsumersReceiveTheirOwnCopy(t *testing.T) {
	log := newTestLog(t)
	consumer := &recordingConsumer{name: "copies"}
	log.Subscribe(consumer)

	ev := &model.Event{
		ID:       "ev-shared",
		TenantID: "acct-1",
		BoardID:  "board-1",
		Actor:    "alice",
		Action:   model.ActionCardClosed,
		Subject:  model.Subject{Kind: model.SubjectCard, ID: "card-1"},
	}
	log.Announce(ev)

	// Mutating the announced event after the fact must not leak into
	// what the consumer saw.
	ev.Actor = "mallory"

	assert.Eventually(t, func() bool {
		return consumer.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	assert.Equal(t, "alice", consumer.events[0].Actor)
}
