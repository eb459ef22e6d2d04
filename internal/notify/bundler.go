package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/cardflow/internal/collab"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
)

// DefaultBundlePeriod is used when a recipient has bundling enabled
// but no period configured.
const DefaultBundlePeriod = 30 * time.Minute

// Bundler aggregates a recipient's unread notifications into
// non-overlapping time windows and delivers each window as one
// batched email. Delivery is at-most-once per bundle: the pending →
// processing transition is claimed before any external call.
type Bundler struct {
	store     store.Store
	directory collab.Directory
	mailer    Mailer
	logger    *slog.Logger

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	triggerCh chan struct{}
}

// NewBundler creates a Bundler sweeping on the given interval.
func NewBundler(
	s store.Store,
	directory collab.Directory,
	mailer Mailer,
	interval time.Duration,
	logger *slog.Logger,
) *Bundler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Bundler{
		store:     s,
		directory: directory,
		mailer:    mailer,
		logger:    logger,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// EnsureWindow guarantees the recipient has an open bundle window. If
// the most recent bundle still extends past now it is reused;
// otherwise a fresh window [now, now+period) is created. Overlap is
// prevented by construction: windows are only ever reused or appended,
// never inserted disjointly.
func (b *Bundler) EnsureWindow(ctx context.Context, tenantID, recipient string, period time.Duration) error {
	if period <= 0 {
		period = DefaultBundlePeriod
	}

	latest, err := b.store.LatestBundle(ctx, tenantID, recipient)
	if err != nil {
		return err
	}

	now := b.now()
	if latest != nil && latest.EndsAt.After(now) {
		return nil
	}

	return b.store.CreateBundle(ctx, &model.NotificationBundle{
		TenantID:  tenantID,
		Recipient: recipient,
		StartsAt:  now,
		EndsAt:    now.Add(period),
		Status:    model.BundleStatusPending,
		CreatedAt: now,
	})
}

// DeliverDue processes every pending bundle whose window has closed.
// Each bundle is handled on its own failure-isolated unit: one bad
// bundle never blocks the rest of the batch.
func (b *Bundler) DeliverDue(ctx context.Context) error {
	due, err := b.store.DueBundles(ctx, b.now())
	if err != nil {
		return fmt.Errorf("selecting due bundles: %w", err)
	}

	for _, bundle := range due {
		if err := b.deliver(ctx, bundle); err != nil {
			b.logger.Error("bundle delivery failed",
				"bundle", bundle.ID,
				"recipient", bundle.Recipient,
				"error", err,
			)
		}
	}
	return nil
}

// deliver claims and delivers one bundle.
func (b *Bundler) deliver(ctx context.Context, bundle model.NotificationBundle) error {
	claimed, err := b.store.ClaimBundle(ctx, bundle.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker got there first. Not an error.
		return nil
	}

	notifications, err := b.store.UnreadNotifications(
		ctx, bundle.TenantID, bundle.Recipient, bundle.StartsAt, bundle.EndsAt,
	)
	if err != nil {
		return err
	}

	prefs, err := b.directory.RecipientPrefs(ctx, bundle.TenantID, bundle.Recipient)
	if err != nil {
		return err
	}

	if len(notifications) == 0 || !prefs.BundleEmail {
		return b.store.MarkBundleDelivered(ctx, bundle.ID)
	}

	if err := b.mailer.SendBundle(ctx, prefs.Email, bundle, notifications); err != nil {
		// The bundle stays in processing; there is no retry. The
		// failure is visible in the bundle status.
		return fmt.Errorf("sending bundle email: %w", err)
	}

	return b.store.MarkBundleDelivered(ctx, bundle.ID)
}

// Start launches the periodic delivery sweep.
func (b *Bundler) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.loop()
}

// Stop halts the sweep loop.
func (b *Bundler) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	close(b.stopCh)
	b.running = false
}

// Trigger requests an immediate sweep without waiting for the ticker.
func (b *Bundler) Trigger() {
	select {
	case b.triggerCh <- struct{}{}:
	default:
	}
}

// loop runs the delivery sweep on the configured interval.
func (b *Bundler) loop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
		case <-b.triggerCh:
		}

		if err := b.DeliverDue(context.Background()); err != nil {
			b.logger.Error("bundle sweep failed", "error", err)
		}
	}
}
