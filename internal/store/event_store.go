package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/cardflow/internal/model"
)

// AppendEvent inserts a standalone event outside any card transition
// (the comment-creation path).
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// GetEvent retrieves a single event by id.
func (s *SQLiteStore) GetEvent(ctx context.Context, tenantID, id string) (*model.Event, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, board_id, actor, action,
		       subject_kind, subject_id, metadata, created_at
		FROM events WHERE tenant_id = ? AND id = ?`,
		tenantID, id,
	)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting event %s: %w", id, err)
	}
	return &ev, nil
}

// EventsForSubject returns all events recorded against one subject,
// oldest first.
func (s *SQLiteStore) EventsForSubject(
	ctx context.Context,
	tenantID string,
	subject model.Subject,
) ([]model.Event, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, tenant_id, board_id, actor, action,
		       subject_kind, subject_id, metadata, created_at
		FROM events
		WHERE tenant_id = ? AND subject_kind = ? AND subject_id = ?
		ORDER BY created_at, id`,
		tenantID, subject.Kind, subject.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// insertEvent writes one immutable event row within the given
// transaction. Events are never updated or deleted afterward.
func insertEvent(ctx context.Context, tx *sqlx.Tx, ev *model.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling event metadata: %w", err)
	}
	if ev.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (
			id, tenant_id, board_id, actor, action,
			subject_kind, subject_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TenantID, ev.BoardID, ev.Actor, ev.Action,
		ev.Subject.Kind, ev.Subject.ID, string(metadata), ev.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", ev.ID, err)
	}
	return nil
}

// scanEvent scans an event row, unmarshaling its metadata payload.
func scanEvent(row rowScanner) (model.Event, error) {
	var (
		ev       model.Event
		metadata string
	)

	err := row.Scan(
		&ev.ID, &ev.TenantID, &ev.BoardID, &ev.Actor, &ev.Action,
		&ev.Subject.Kind, &ev.Subject.ID, &metadata, &ev.CreatedAt,
	)
	if err != nil {
		return model.Event{}, err
	}

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &ev.Metadata); err != nil {
			return model.Event{}, fmt.Errorf("unmarshaling event metadata: %w", err)
		}
	}

	return ev, nil
}
