package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/cardflow/internal/model"
)

// CreateWebhook inserts a new webhook subscription.
func (s *SQLiteStore) CreateWebhook(ctx context.Context, w *model.Webhook) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}

	actions, err := json.Marshal(w.Actions)
	if err != nil {
		return fmt.Errorf("marshaling webhook actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (
			id, tenant_id, board_id, url, secret, actions, active,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.TenantID, w.BoardID, w.URL, w.Secret,
		string(actions), boolToInt(w.Active),
		w.CreatedAt.UTC(), w.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting webhook %s: %w", w.ID, err)
	}
	return nil
}

// GetWebhook retrieves a single webhook by id.
func (s *SQLiteStore) GetWebhook(ctx context.Context, tenantID, id string) (*model.Webhook, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, board_id, url, secret, actions, active,
		       created_at, updated_at
		FROM webhooks WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)

	w, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("webhook %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting webhook %s: %w", id, err)
	}
	return &w, nil
}

// MatchingWebhooks returns the active webhooks on a board that are
// subscribed to the given action.
func (s *SQLiteStore) MatchingWebhooks(
	ctx context.Context,
	tenantID, boardID string,
	action model.Action,
) ([]model.Webhook, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, tenant_id, board_id, url, secret, actions, active,
		       created_at, updated_at
		FROM webhooks
		WHERE tenant_id = ? AND board_id = ? AND active = 1
		ORDER BY id`,
		tenantID, boardID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	var matched []model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		if w.Subscribed(action) {
			matched = append(matched, w)
		}
	}

	return matched, rows.Err()
}

// CreateDelivery inserts a new delivery attempt record.
func (s *SQLiteStore) CreateDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_id, event_id, state, request_body,
			response_status, response_body, error, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WebhookID, d.EventID, d.State, d.RequestBody,
		d.ResponseStatus, d.ResponseBody, d.Error,
		d.CreatedAt.UTC(), nullTime(d.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDelivery rewrites a delivery's state and captured
// request/response snapshot.
func (s *SQLiteStore) UpdateDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			state = ?, request_body = ?, response_status = ?,
			response_body = ?, error = ?, completed_at = ?
		WHERE id = ?`,
		d.State, d.RequestBody, d.ResponseStatus,
		d.ResponseBody, d.Error, nullTime(d.CompletedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating delivery %s: %w", d.ID, err)
	}
	return nil
}

// DeliveryForEvent returns the delivery attempt this webhook already
// made for an event, or nil if none exists. Each event produces at
// most one attempt per matching webhook.
func (s *SQLiteStore) DeliveryForEvent(ctx context.Context, webhookID, eventID string) (*model.WebhookDelivery, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, webhook_id, event_id, state, request_body,
		       response_status, response_body, error, created_at, completed_at
		FROM webhook_deliveries
		WHERE webhook_id = ? AND event_id = ?
		LIMIT 1`,
		webhookID, eventID,
	)

	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// DeliveriesForWebhook returns all delivery attempts for one webhook,
// oldest first.
func (s *SQLiteStore) DeliveriesForWebhook(ctx context.Context, webhookID string) ([]model.WebhookDelivery, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, webhook_id, event_id, state, request_body,
		       response_status, response_body, error, created_at, completed_at
		FROM webhook_deliveries
		WHERE webhook_id = ?
		ORDER BY created_at, id`,
		webhookID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, rows.Err()
}

// RecordWebhookFailure bumps the webhook's delinquency tracker in one
// transaction and reports whether the webhook was deactivated as a
// result. A streak older than the delinquency window restarts from
// this failure instead of accumulating.
func (s *SQLiteStore) RecordWebhookFailure(
	ctx context.Context,
	webhookID string,
	now time.Time,
) (deactivated bool, err error) {
	now = now.UTC()

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var (
			failures     int
			firstFailure sql.NullTime
		)
		err := tx.QueryRowxContext(ctx, `
			SELECT consecutive_failures, first_failure_at
			FROM webhook_delinquencies WHERE webhook_id = ?`,
			webhookID,
		).Scan(&failures, &firstFailure)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			failures = 0
		case err != nil:
			return fmt.Errorf("reading delinquency for %s: %w", webhookID, err)
		}

		streakStart := now
		if failures == 0 || !firstFailure.Valid {
			failures = 1
		} else if now.Sub(firstFailure.Time) > model.DelinquencyWindow {
			// Stale streak: restart the count from this failure.
			failures = 1
		} else {
			failures++
			streakStart = firstFailure.Time
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO webhook_delinquencies (webhook_id, consecutive_failures, first_failure_at)
			VALUES (?, ?, ?)
			ON CONFLICT(webhook_id) DO UPDATE SET
				consecutive_failures = excluded.consecutive_failures,
				first_failure_at = excluded.first_failure_at`,
			webhookID, failures, streakStart,
		); err != nil {
			return fmt.Errorf("updating delinquency for %s: %w", webhookID, err)
		}

		if failures >= model.DelinquencyLimit && now.Sub(streakStart) <= model.DelinquencyWindow {
			if _, err := tx.ExecContext(ctx, `
				UPDATE webhooks SET active = 0, updated_at = ? WHERE id = ?`,
				now, webhookID,
			); err != nil {
				return fmt.Errorf("deactivating webhook %s: %w", webhookID, err)
			}
			deactivated = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return deactivated, nil
}

// ResetDelinquency clears the webhook's failure streak after a
// successful delivery.
func (s *SQLiteStore) ResetDelinquency(ctx context.Context, webhookID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_delinquencies (webhook_id, consecutive_failures, first_failure_at)
		VALUES (?, 0, NULL)
		ON CONFLICT(webhook_id) DO UPDATE SET
			consecutive_failures = 0,
			first_failure_at = NULL`,
		webhookID,
	)
	if err != nil {
		return fmt.Errorf("resetting delinquency for %s: %w", webhookID, err)
	}
	return nil
}

// GetDelinquency retrieves a webhook's delinquency tracker, or nil if
// it has never failed.
func (s *SQLiteStore) GetDelinquency(ctx context.Context, webhookID string) (*model.DelinquencyTracker, error) {
	var (
		t            model.DelinquencyTracker
		firstFailure sql.NullTime
	)
	err := s.db.QueryRowxContext(ctx, `
		SELECT webhook_id, consecutive_failures, first_failure_at
		FROM webhook_delinquencies WHERE webhook_id = ?`,
		webhookID,
	).Scan(&t.WebhookID, &t.ConsecutiveFailures, &firstFailure)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting delinquency for %s: %w", webhookID, err)
	}
	if firstFailure.Valid {
		t.FirstFailureAt = &firstFailure.Time
	}
	return &t, nil
}

// scanWebhook scans a webhook row, unmarshaling its action set.
func scanWebhook(row rowScanner) (model.Webhook, error) {
	var (
		w       model.Webhook
		actions string
		active  int
	)

	err := row.Scan(
		&w.ID, &w.TenantID, &w.BoardID, &w.URL, &w.Secret,
		&actions, &active, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return model.Webhook{}, err
	}

	w.Active = active != 0
	if actions != "" {
		if err := json.Unmarshal([]byte(actions), &w.Actions); err != nil {
			return model.Webhook{}, fmt.Errorf("unmarshaling webhook actions: %w", err)
		}
	}

	return w, nil
}

// scanDelivery scans a webhook delivery row.
func scanDelivery(row rowScanner) (model.WebhookDelivery, error) {
	var (
		d           model.WebhookDelivery
		respStatus  sql.NullInt64
		completedAt sql.NullTime
	)

	err := row.Scan(
		&d.ID, &d.WebhookID, &d.EventID, &d.State, &d.RequestBody,
		&respStatus, &d.ResponseBody, &d.Error, &d.CreatedAt, &completedAt,
	)
	if err != nil {
		return model.WebhookDelivery{}, fmt.Errorf("scanning delivery row: %w", err)
	}

	if respStatus.Valid {
		status := int(respStatus.Int64)
		d.ResponseStatus = &status
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}

	return d, nil
}
