package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/cardflow/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const cardColumns = `
	id, tenant_id, board_id, column_id, status, title, due_on, number,
	last_active_at, created_at, updated_at,
	closed_by, closed_at, postponed_by, postponed_at,
	gilded_by, gilded_at, spiked_at`

// cardColumnsQualified is cardColumns with the "c" table alias, for
// queries that join cards against other tables.
const cardColumnsQualified = `
	c.id, c.tenant_id, c.board_id, c.column_id, c.status, c.title, c.due_on, c.number,
	c.last_active_at, c.created_at, c.updated_at,
	c.closed_by, c.closed_at, c.postponed_by, c.postponed_at,
	c.gilded_by, c.gilded_at, c.spiked_at`

// CreateCard inserts a new card, allocating the next sequential
// per-tenant number within the same transaction.
func (s *SQLiteStore) CreateCard(ctx context.Context, card *model.Card) error {
	if card.ID == "" {
		card.ID = uuid.New().String()
	}

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tenant_sequences SET next_number = next_number + 1
			WHERE tenant_id = ?`, card.TenantID,
		)
		if err != nil {
			return fmt.Errorf("bumping tenant sequence: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tenant_sequences (tenant_id, next_number)
				VALUES (?, 2)`, card.TenantID,
			); err != nil {
				return fmt.Errorf("seeding tenant sequence: %w", err)
			}
			card.Number = 1
		} else {
			var next int64
			if err := tx.GetContext(ctx, &next, `
				SELECT next_number FROM tenant_sequences WHERE tenant_id = ?`,
				card.TenantID,
			); err != nil {
				return fmt.Errorf("reading tenant sequence: %w", err)
			}
			card.Number = next - 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cards (
				id, tenant_id, board_id, column_id, status, title, due_on,
				number, last_active_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			card.ID, card.TenantID, card.BoardID, card.ColumnID,
			card.Status, card.Title, nullTime(card.DueOn),
			card.Number, card.LastActiveAt.UTC(),
			card.CreatedAt.UTC(), card.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting card %s: %w", card.ID, err)
		}
		return nil
	})
}

// GetCard retrieves a single card with its markers and assignee ids.
func (s *SQLiteStore) GetCard(ctx context.Context, tenantID, id string) (*model.Card, error) {
	row := s.db.QueryRowxContext(ctx,
		"SELECT "+cardColumns+" FROM cards WHERE tenant_id = ? AND id = ?",
		tenantID, id,
	)

	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("getting card %s: %w", id, err)
	}

	if err := s.db.SelectContext(ctx, &card.AssigneeIDs, `
		SELECT user_id FROM card_assignees
		WHERE card_id = ? ORDER BY user_id`, id,
	); err != nil {
		return nil, fmt.Errorf("loading assignees for card %s: %w", id, err)
	}

	return &card, nil
}

// UpdateCard rewrites the card row without recording an event. Used
// for marker-only mutations that are not audited transitions.
func (s *SQLiteStore) UpdateCard(ctx context.Context, card *model.Card) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return updateCard(ctx, tx, card)
	})
}

// CommitTransition writes the card's mutated state and appends exactly
// one event in a single transaction. On any failure neither is
// persisted.
func (s *SQLiteStore) CommitTransition(
	ctx context.Context,
	card *model.Card,
	ev *model.Event,
) (*model.Event, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateCard(ctx, tx, card); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// AddAssigneeWithEvent inserts one assignment row, bumps the card's
// activity, and appends the event, all in one transaction.
func (s *SQLiteStore) AddAssigneeWithEvent(
	ctx context.Context,
	card *model.Card,
	a model.Assignment,
	ev *model.Event,
) (*model.Event, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO card_assignees (card_id, user_id, assigned_by, created_at)
			VALUES (?, ?, ?, ?)`,
			a.CardID, a.UserID, a.AssignedBy, a.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("inserting assignment: %w", err)
		}
		if err := updateCard(ctx, tx, card); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// RemoveAssigneeWithEvent deletes one assignment row, bumps the card's
// activity, and appends the event, all in one transaction.
func (s *SQLiteStore) RemoveAssigneeWithEvent(
	ctx context.Context,
	card *model.Card,
	userID string,
	ev *model.Event,
) (*model.Event, error) {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM card_assignees WHERE card_id = ? AND user_id = ?`,
			card.ID, userID,
		); err != nil {
			return fmt.Errorf("deleting assignment: %w", err)
		}
		if err := updateCard(ctx, tx, card); err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// updateCard rewrites every mutable column of the card row.
func updateCard(ctx context.Context, tx *sqlx.Tx, card *model.Card) error {
	var (
		closedBy, postponedBy, gildedBy           *string
		closedAt, postponedAt, gildedAt, spikedAt *time.Time
	)
	if card.Closure != nil {
		closedBy = &card.Closure.ClosedBy
		t := card.Closure.ClosedAt.UTC()
		closedAt = &t
	}
	if card.Postponement != nil {
		postponedBy = &card.Postponement.PostponedBy
		t := card.Postponement.PostponedAt.UTC()
		postponedAt = &t
	}
	if card.Goldness != nil {
		gildedBy = &card.Goldness.GildedBy
		t := card.Goldness.GildedAt.UTC()
		gildedAt = &t
	}
	if card.ActivitySpike != nil {
		t := card.ActivitySpike.SpikedAt.UTC()
		spikedAt = &t
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE cards SET
			board_id = ?, column_id = ?, status = ?, title = ?, due_on = ?,
			last_active_at = ?, updated_at = ?,
			closed_by = ?, closed_at = ?,
			postponed_by = ?, postponed_at = ?,
			gilded_by = ?, gilded_at = ?, spiked_at = ?
		WHERE tenant_id = ? AND id = ?`,
		card.BoardID, card.ColumnID, card.Status, card.Title, nullTime(card.DueOn),
		card.LastActiveAt.UTC(), card.UpdatedAt.UTC(),
		closedBy, closedAt,
		postponedBy, postponedAt,
		gildedBy, gildedAt, spikedAt,
		card.TenantID, card.ID,
	)
	if err != nil {
		return fmt.Errorf("updating card %s: %w", card.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", card.ID, ErrNotFound)
	}
	return nil
}

// rowScanner abstracts sqlx.Row and sqlx.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanCard scans a card row including its nullable marker columns.
func scanCard(row rowScanner) (model.Card, error) {
	return scanCardPlus(row)
}

// scanCardPlus scans a card row followed by any extra trailing
// columns the query selected (e.g. a resolved entropy period).
func scanCardPlus(row rowScanner, extra ...interface{}) (model.Card, error) {
	var (
		card        model.Card
		columnID    sql.NullString
		dueOn       sql.NullTime
		closedBy    sql.NullString
		closedAt    sql.NullTime
		postponedBy sql.NullString
		postponedAt sql.NullTime
		gildedBy    sql.NullString
		gildedAt    sql.NullTime
		spikedAt    sql.NullTime
	)

	dest := []interface{}{
		&card.ID, &card.TenantID, &card.BoardID, &columnID,
		&card.Status, &card.Title, &dueOn, &card.Number,
		&card.LastActiveAt, &card.CreatedAt, &card.UpdatedAt,
		&closedBy, &closedAt, &postponedBy, &postponedAt,
		&gildedBy, &gildedAt, &spikedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return model.Card{}, err
	}

	if columnID.Valid {
		card.ColumnID = &columnID.String
	}
	if dueOn.Valid {
		card.DueOn = &dueOn.Time
	}
	if closedAt.Valid {
		card.Closure = &model.Closure{
			ClosedBy: closedBy.String,
			ClosedAt: closedAt.Time,
		}
	}
	if postponedAt.Valid {
		card.Postponement = &model.Postponement{
			PostponedBy: postponedBy.String,
			PostponedAt: postponedAt.Time,
		}
	}
	if gildedAt.Valid {
		card.Goldness = &model.Goldness{
			GildedBy: gildedBy.String,
			GildedAt: gildedAt.Time,
		}
	}
	if spikedAt.Valid {
		card.ActivitySpike = &model.ActivitySpike{SpikedAt: spikedAt.Time}
	}

	return card, nil
}

// nullTime converts an optional time to a driver-friendly value.
func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
