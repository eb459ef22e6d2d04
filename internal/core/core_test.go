package core

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/cardflow/internal/entropy"
	"github.com/nhle/cardflow/internal/eventlog"
	"github.com/nhle/cardflow/internal/fanout"
	"github.com/nhle/cardflow/internal/lifecycle"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/notify"
	"github.com/nhle/cardflow/internal/store"
	"github.com/nhle/cardflow/internal/webhook"
	"github.com/nhle/cardflow/tests/testutil"
)

// testCore mirrors Open's wiring with test collaborators and a fake
// mailer instead of the keyring-backed SMTP one.
type testCore struct {
	store  store.Store
	engine *lifecycle.Engine
	sweep  *entropy.Scheduler
	dir    *testutil.FakeDirectory
	mailer *testutil.FakeMailer
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()

	s := testutil.NewTestStore(t)
	logger := slog.New(slog.DiscardHandler)

	dispatcher := fanout.New(logger, 4, 64)
	t.Cleanup(dispatcher.Stop)

	log := eventlog.New(s, dispatcher, logger)
	dir := testutil.NewFakeDirectory()
	engine := lifecycle.New(s, log, dir, testutil.NewFakeAccess(), logger)

	mailer := &testutil.FakeMailer{}
	bundler := notify.NewBundler(s, dir, mailer, time.Hour, logger)
	log.Subscribe(notify.NewRouter(s, dir, bundler, engine, logger))
	log.Subscribe(webhook.NewDispatcher(s, 0, 0, logger))

	return &testCore{
		store:  s,
		engine: engine,
		sweep:  entropy.New(s, engine, time.Hour, logger),
		dir:    dir,
		mailer: mailer,
	}
}

func TestPublishFansOutToNotificationsAndWebhooks(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	c.dir.Watchers["board-1"] = []string{"alice", "bob"}

	hook := &model.Webhook{
		TenantID:  "acct-1",
		BoardID:   "board-1",
		URL:       "http://127.0.0.1:9/hook",
		Secret:    "s3cret",
		Actions:   []model.Action{model.ActionCardPublished},
		Active:    true,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, c.store.CreateWebhook(ctx, hook))

	card, err := c.engine.Create(ctx, "acct-1", "board-1", "Wire up the fan-out", "alice")
	require.NoError(t, err)
	_, err = c.engine.Publish(ctx, "acct-1", card.ID, "alice", nil)
	require.NoError(t, err)

	// The transition returns immediately; both consumers run on the
	// background pool.
	assert.Eventually(t, func() bool {
		got, err := c.store.NotificationsForRecipient(ctx, "acct-1", "bob")
		return err == nil && len(got) == 1
	}, 3*time.Second, 20*time.Millisecond, "watcher notified")

	assert.Eventually(t, func() bool {
		deliveries, err := c.store.DeliveriesForWebhook(ctx, hook.ID)
		return err == nil && len(deliveries) == 1
	}, 3*time.Second, 20*time.Millisecond, "webhook attempted")

	// The loopback target is rejected by the guard before any socket
	// opens, and the rejection is visible on the delivery row.
	deliveries, err := c.store.DeliveriesForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStateErrored, deliveries[0].State)
	assert.Contains(t, deliveries[0].Error, "ssrf rejected")

	// The actor never hears about their own action.
	got, err := c.store.NotificationsForRecipient(ctx, "acct-1", "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEntropySweepNotifiesWatchers(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	c.dir.Watchers["board-1"] = []string{"bob"}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := base.Add(-40 * 24 * time.Hour)
	c.engine.SetClock(func() time.Time { return clock })

	card, err := c.engine.Create(ctx, "acct-1", "board-1", "Long forgotten", "alice")
	require.NoError(t, err)
	_, err = c.engine.Publish(ctx, "acct-1", card.ID, "alice", nil)
	require.NoError(t, err)

	// Wait for the publish fan-out so the sweep's notification is
	// unambiguous.
	assert.Eventually(t, func() bool {
		got, err := c.store.NotificationsForRecipient(ctx, "acct-1", "bob")
		return err == nil && len(got) == 1
	}, 3*time.Second, 20*time.Millisecond)

	clock = base
	require.NoError(t, c.sweep.Sweep(ctx))

	got, err := c.store.GetCard(ctx, "acct-1", card.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Postponement)
	assert.Equal(t, model.SystemActor, got.Postponement.PostponedBy)

	assert.Eventually(t, func() bool {
		got, err := c.store.NotificationsForRecipient(ctx, "acct-1", "bob")
		return err == nil && len(got) == 2
	}, 3*time.Second, 20*time.Millisecond, "auto-postpone notified the watcher")
}
