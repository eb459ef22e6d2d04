package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/cardflow/internal/model"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func seedCard(t *testing.T, s *SQLiteStore, tenantID, boardID string) *model.Card {
	t.Helper()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	card := &model.Card{
		TenantID:     tenantID,
		BoardID:      boardID,
		Status:       model.CardStatusPublished,
		Title:        "Trim the backlog",
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateCard(context.Background(), card))
	return card
}

func TestCreateCardAllocatesPerTenantNumbers(t *testing.T) {
	s := newStore(t)

	a := seedCard(t, s, "acct-1", "board-1")
	b := seedCard(t, s, "acct-1", "board-2")
	c := seedCard(t, s, "acct-2", "board-1")

	assert.Equal(t, int64(1), a.Number)
	assert.Equal(t, int64(2), b.Number)
	assert.Equal(t, int64(1), c.Number)
	assert.NotEmpty(t, a.ID)
}

func TestCardMarkersRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	card := seedCard(t, s, "acct-1", "board-1")
	closedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	card.Closure = &model.Closure{ClosedBy: "alice", ClosedAt: closedAt}
	card.Goldness = &model.Goldness{GildedBy: "bob", GildedAt: closedAt}
	require.NoError(t, s.UpdateCard(ctx, card))

	got, err := s.GetCard(ctx, "acct-1", card.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Closure)
	assert.Equal(t, "alice", got.Closure.ClosedBy)
	assert.True(t, got.Closure.ClosedAt.Equal(closedAt))
	require.NotNil(t, got.Goldness)
	assert.Equal(t, "bob", got.Goldness.GildedBy)
	assert.Nil(t, got.Postponement)
	assert.Nil(t, got.ActivitySpike)

	// Clearing the markers persists too.
	card.Closure = nil
	card.Goldness = nil
	require.NoError(t, s.UpdateCard(ctx, card))

	got, err = s.GetCard(ctx, "acct-1", card.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Closure)
	assert.Nil(t, got.Goldness)
}

func TestClosureAndPostponementAreExclusive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	card := seedCard(t, s, "acct-1", "board-1")
	now := time.Now().UTC()
	card.Closure = &model.Closure{ClosedBy: "alice", ClosedAt: now}
	card.Postponement = &model.Postponement{PostponedBy: "bob", PostponedAt: now}

	// The schema enforces the exclusion even if a caller slips.
	assert.Error(t, s.UpdateCard(ctx, card))
}

func TestGetCardUnknownIDReturnsNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetCard(context.Background(), "acct-1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCardIsTenantScoped(t *testing.T) {
	s := newStore(t)

	card := seedCard(t, s, "acct-1", "board-1")

	_, err := s.GetCard(context.Background(), "acct-2", card.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommitTransitionPersistsCardAndEvent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	card := seedCard(t, s, "acct-1", "board-1")
	column := "col-doing"
	card.ColumnID = &column

	ev, err := s.CommitTransition(ctx, card, &model.Event{
		TenantID:  "acct-1",
		BoardID:   "board-1",
		Actor:     "alice",
		Action:    model.ActionCardTriaged,
		Subject:   model.Subject{Kind: model.SubjectCard, ID: card.ID},
		Metadata:  map[string]any{model.MetaColumnID: column},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)

	got, err := s.GetCard(ctx, "acct-1", card.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ColumnID)
	assert.Equal(t, column, *got.ColumnID)

	stored, err := s.GetEvent(ctx, "acct-1", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCardTriaged, stored.Action)
	assert.Equal(t, column, stored.Metadata[model.MetaColumnID])
}

func TestAssigneesRoundTripSorted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	card := seedCard(t, s, "acct-1", "board-1")
	now := time.Now().UTC()

	for _, user := range []string{"zoe", "adam"} {
		_, err := s.AddAssigneeWithEvent(ctx, card, model.Assignment{
			CardID:     card.ID,
			UserID:     user,
			AssignedBy: "alice",
			CreatedAt:  now,
		}, &model.Event{
			TenantID:  "acct-1",
			BoardID:   "board-1",
			Actor:     "alice",
			Action:    model.ActionCardAssigned,
			Subject:   model.Subject{Kind: model.SubjectCard, ID: card.ID},
			CreatedAt: now,
		})
		require.NoError(t, err)
	}

	got, err := s.GetCard(ctx, "acct-1", card.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"adam", "zoe"}, got.AssigneeIDs)

	_, err = s.RemoveAssigneeWithEvent(ctx, got, "adam", &model.Event{
		TenantID:  "acct-1",
		BoardID:   "board-1",
		Actor:     "alice",
		Action:    model.ActionCardUnassigned,
		Subject:   model.Subject{Kind: model.SubjectCard, ID: card.ID},
		CreatedAt: now,
	})
	require.NoError(t, err)

	got, err = s.GetCard(ctx, "acct-1", card.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"zoe"}, got.AssigneeIDs)
}
