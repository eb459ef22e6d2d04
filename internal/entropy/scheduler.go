// Package entropy sweeps open cards whose lifecycle has gone stale
// and postpones them as the system actor. The effective auto-postpone
// period is the board's setting, falling back to the account's, then
// to the 30-day default.
package entropy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
)

// Postponer runs the auto-postpone transition. The lifecycle engine
// implements it; the scheduler produces into it and owns no state of
// its own.
type Postponer interface {
	Postpone(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error)
}

// Scheduler runs the periodic stale-card sweep.
type Scheduler struct {
	store     store.Store
	postponer Postponer
	logger    *slog.Logger

	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	triggerCh chan struct{}
}

// New creates a Scheduler sweeping on the given interval (the design
// default is hourly).
func New(s store.Store, p Postponer, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		store:     s,
		postponer: p,
		logger:    logger,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		stopCh:    make(chan struct{}),
		triggerCh: make(chan struct{}, 1),
	}
}

// Sweep postpones every open card whose last activity predates its
// effective period. Each card is processed on its own failure-isolated
// unit: one stuck card never blocks the rest of the batch.
func (s *Scheduler) Sweep(ctx context.Context) error {
	stale, err := s.store.StaleOpenCards(ctx, s.now())
	if err != nil {
		return err
	}

	for _, card := range stale {
		if _, err := s.postponer.Postpone(ctx, card.TenantID, card.ID, model.SystemActor); err != nil {
			s.logger.Error("auto-postpone failed",
				"tenant", card.TenantID,
				"card", card.ID,
				"error", err,
			)
		}
	}
	return nil
}

// PostponingSoon surfaces a tenant's open cards past 75% of their
// period for advisory display. It has no side effects.
func (s *Scheduler) PostponingSoon(ctx context.Context, tenantID string) ([]model.Card, error) {
	return s.store.PostponingSoon(ctx, tenantID, s.now())
}

// Start launches the periodic sweep.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
}

// Stop halts the sweep loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

// Trigger requests an immediate sweep without waiting for the ticker.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// loop runs the sweep on the configured interval.
func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		case <-s.triggerCh:
		}

		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("entropy sweep failed", "error", err)
		}
	}
}
