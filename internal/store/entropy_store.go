package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/cardflow/internal/model"
)

// UpsertEntropySetting creates or replaces an auto-postpone period for
// an account or a board.
func (s *SQLiteStore) UpsertEntropySetting(ctx context.Context, setting model.EntropySetting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entropy_settings (tenant_id, scope, scope_id, period_sec)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tenant_id, scope, scope_id) DO UPDATE SET
			period_sec = excluded.period_sec`,
		setting.TenantID, setting.Scope, setting.ScopeID, setting.PeriodSec,
	)
	if err != nil {
		return fmt.Errorf("upserting entropy setting: %w", err)
	}
	return nil
}

// DeleteEntropySetting removes an auto-postpone period override.
func (s *SQLiteStore) DeleteEntropySetting(ctx context.Context, tenantID, scope, scopeID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM entropy_settings
		WHERE tenant_id = ? AND scope = ? AND scope_id = ?`,
		tenantID, scope, scopeID,
	)
	if err != nil {
		return fmt.Errorf("deleting entropy setting: %w", err)
	}
	return nil
}

// cardWithPeriod pairs an open card with its effective auto-postpone
// period (board setting, else account setting, else the default).
type cardWithPeriod struct {
	card   model.Card
	period time.Duration
}

// openCardsWithPeriods loads every open card together with its
// effective period. The COALESCE chain resolves the board-over-account
// precedence; the time comparison happens in Go because the stored
// timestamp format is the driver's, not SQLite's.
func (s *SQLiteStore) openCardsWithPeriods(ctx context.Context) ([]cardWithPeriod, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT `+cardColumnsQualified+`,
		       COALESCE(b.period_sec, a.period_sec, ?) AS period_sec
		FROM cards c
		LEFT JOIN entropy_settings b
			ON b.tenant_id = c.tenant_id AND b.scope = 'board' AND b.scope_id = c.board_id
		LEFT JOIN entropy_settings a
			ON a.tenant_id = c.tenant_id AND a.scope = 'account' AND a.scope_id = c.tenant_id
		WHERE c.status = 'published'
		  AND c.closed_at IS NULL
		  AND c.postponed_at IS NULL
		ORDER BY c.tenant_id, c.number`,
		int64(model.DefaultEntropyPeriod/time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("querying open cards: %w", err)
	}
	defer rows.Close()

	var result []cardWithPeriod
	for rows.Next() {
		cp, err := scanCardWithPeriod(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}

	return result, rows.Err()
}

// StaleOpenCards returns open cards whose last activity predates their
// effective auto-postpone period, across all tenants.
func (s *SQLiteStore) StaleOpenCards(ctx context.Context, now time.Time) ([]model.Card, error) {
	withPeriods, err := s.openCardsWithPeriods(ctx)
	if err != nil {
		return nil, err
	}

	var stale []model.Card
	for _, cp := range withPeriods {
		if cp.card.LastActiveAt.Add(cp.period).Before(now) {
			stale = append(stale, cp.card)
		}
	}
	return stale, nil
}

// PostponingSoon returns a tenant's open cards past 75% of their
// effective period but not yet over it. The query is read-only and
// advisory.
func (s *SQLiteStore) PostponingSoon(ctx context.Context, tenantID string, now time.Time) ([]model.Card, error) {
	withPeriods, err := s.openCardsWithPeriods(ctx)
	if err != nil {
		return nil, err
	}

	var soon []model.Card
	for _, cp := range withPeriods {
		if cp.card.TenantID != tenantID {
			continue
		}
		elapsed := now.Sub(cp.card.LastActiveAt)
		if elapsed >= cp.period*3/4 && elapsed <= cp.period {
			soon = append(soon, cp.card)
		}
	}
	return soon, nil
}

// scanCardWithPeriod scans a card row followed by its resolved
// period_sec column.
func scanCardWithPeriod(row rowScanner) (cardWithPeriod, error) {
	// The column list matches cardColumns plus period_sec, so the card
	// scan helper cannot be reused directly.
	var (
		cp        cardWithPeriod
		periodSec int64
	)

	card, err := scanCardPlus(row, &periodSec)
	if err != nil {
		return cardWithPeriod{}, fmt.Errorf("scanning card with period: %w", err)
	}

	cp.card = card
	cp.period = time.Duration(periodSec) * time.Second
	return cp, nil
}
