package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/cardflow/internal/model"
)

// CreateNotifications inserts a batch of notification rows and returns
// how many were actually inserted. Rows whose (recipient, source)
// pair already exists are skipped, which makes event fan-out safe to
// re-deliver.
func (s *SQLiteStore) CreateNotifications(
	ctx context.Context,
	notifications []model.Notification,
) (int, error) {
	if len(notifications) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		const query = `
			INSERT OR IGNORE INTO notifications (
				id, tenant_id, recipient, actor, source_kind, source_id,
				read_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, NULL, ?)`

		stmt, err := tx.PreparexContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing notification insert: %w", err)
		}
		defer stmt.Close()

		for _, n := range notifications {
			if n.ID == "" {
				n.ID = uuid.New().String()
			}
			res, err := stmt.ExecContext(ctx,
				n.ID, n.TenantID, n.Recipient, n.Actor,
				n.Source, n.SourceID, n.CreatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("inserting notification for %s: %w", n.Recipient, err)
			}
			if rows, _ := res.RowsAffected(); rows > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// UnreadNotifications retrieves a recipient's unread notifications
// created within [from, to), oldest first.
func (s *SQLiteStore) UnreadNotifications(
	ctx context.Context,
	tenantID, recipient string,
	from, to time.Time,
) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, tenant_id, recipient, actor, source_kind, source_id,
		       read_at, created_at
		FROM notifications
		WHERE tenant_id = ? AND recipient = ? AND read_at IS NULL
		  AND created_at >= ? AND created_at < ?
		ORDER BY created_at`,
		tenantID, recipient, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// NotificationsForRecipient retrieves all of a recipient's
// notifications, newest first.
func (s *SQLiteStore) NotificationsForRecipient(
	ctx context.Context,
	tenantID, recipient string,
) ([]model.Notification, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, tenant_id, recipient, actor, source_kind, source_id,
		       read_at, created_at
		FROM notifications
		WHERE tenant_id = ? AND recipient = ?
		ORDER BY created_at DESC`,
		tenantID, recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkNotificationRead stamps a single notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = ?
		WHERE tenant_id = ? AND id = ? AND read_at IS NULL`,
		time.Now().UTC(), tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("marking notification %s as read: %w", id, err)
	}
	return nil
}

// scanNotification scans a notification row.
func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n      model.Notification
		actor  sql.NullString
		readAt sql.NullTime
	)

	err := row.Scan(
		&n.ID, &n.TenantID, &n.Recipient, &actor,
		&n.Source, &n.SourceID, &readAt, &n.CreatedAt,
	)
	if err != nil {
		return model.Notification{}, fmt.Errorf("scanning notification row: %w", err)
	}

	if actor.Valid {
		n.Actor = &actor.String
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}

	return n, nil
}
