package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/cardflow/internal/model"
)

// LatestBundle returns the recipient's most recent bundle by window
// end, or nil if they have none.
func (s *SQLiteStore) LatestBundle(
	ctx context.Context,
	tenantID, recipient string,
) (*model.NotificationBundle, error) {
	var b model.NotificationBundle
	err := s.db.GetContext(ctx, &b, `
		SELECT id, tenant_id, recipient, starts_at, ends_at, status, created_at
		FROM notification_bundles
		WHERE tenant_id = ? AND recipient = ?
		ORDER BY ends_at DESC LIMIT 1`,
		tenantID, recipient,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying latest bundle: %w", err)
	}
	return &b, nil
}

// CreateBundle inserts a new bundle window.
func (s *SQLiteStore) CreateBundle(ctx context.Context, b *model.NotificationBundle) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_bundles (
			id, tenant_id, recipient, starts_at, ends_at, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.TenantID, b.Recipient,
		b.StartsAt.UTC(), b.EndsAt.UTC(), b.Status, b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting bundle for %s: %w", b.Recipient, err)
	}
	return nil
}

// DueBundles returns pending bundles whose window has closed.
func (s *SQLiteStore) DueBundles(ctx context.Context, now time.Time) ([]model.NotificationBundle, error) {
	var bundles []model.NotificationBundle
	err := s.db.SelectContext(ctx, &bundles, `
		SELECT id, tenant_id, recipient, starts_at, ends_at, status, created_at
		FROM notification_bundles
		WHERE status = ? AND ends_at <= ?
		ORDER BY ends_at`,
		model.BundleStatusPending, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying due bundles: %w", err)
	}
	return bundles, nil
}

// ClaimBundle attempts the pending → processing transition. A false
// return means another worker already claimed the bundle; that is not
// an error.
func (s *SQLiteStore) ClaimBundle(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_bundles SET status = ?
		WHERE id = ? AND status = ?`,
		model.BundleStatusProcessing, id, model.BundleStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claiming bundle %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming bundle %s: %w", id, err)
	}
	return n > 0, nil
}

// MarkBundleDelivered finalizes a processing bundle.
func (s *SQLiteStore) MarkBundleDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_bundles SET status = ?
		WHERE id = ? AND status = ?`,
		model.BundleStatusDelivered, id, model.BundleStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("marking bundle %s delivered: %w", id, err)
	}
	return nil
}
