package model

import "time"

// Card status constants.
const (
	CardStatusDrafted   = "drafted"
	CardStatusPublished = "published"
)

// MaxAssignees is the hard cap on simultaneous assignees per card.
const MaxAssignees = 100

// Closure marks a card as closed and records who closed it and when.
type Closure struct {
	ClosedBy string    `json:"closed_by" db:"closed_by"`
	ClosedAt time.Time `json:"closed_at" db:"closed_at"`
}

// Postponement marks a card as "not now" and records who postponed it
// and when. A card never carries both a Closure and a Postponement.
type Postponement struct {
	PostponedBy string    `json:"postponed_by" db:"postponed_by"`
	PostponedAt time.Time `json:"postponed_at" db:"postponed_at"`
}

// Goldness marks a card as highlighted.
type Goldness struct {
	GildedBy string    `json:"gilded_by" db:"gilded_by"`
	GildedAt time.Time `json:"gilded_at" db:"gilded_at"`
}

// ActivitySpike marks a postponed card that has seen a recent burst of
// activity. It is cleared when the card is resumed.
type ActivitySpike struct {
	SpikedAt time.Time `json:"spiked_at" db:"spiked_at"`
}

// Card is the tracked work item whose lifecycle this core manages.
// Its column assignment distinguishes "triaged" from "awaiting triage":
// a published card with no column is awaiting triage.
type Card struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	BoardID  string `json:"board_id" db:"board_id"`

	// ColumnID is nil while the card is awaiting triage.
	ColumnID *string `json:"column_id,omitempty" db:"column_id"`

	Status string `json:"status" db:"status"`
	Title  string `json:"title" db:"title"`

	DueOn *time.Time `json:"due_on,omitempty" db:"due_on"`

	// Number is the sequential per-tenant card number.
	Number int64 `json:"number" db:"number"`

	// LastActiveAt is bumped on every lifecycle transition and is the
	// sole input to the entropy sweep.
	LastActiveAt time.Time `json:"last_active_at" db:"last_active_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Zero-or-one lifecycle markers.
	Closure       *Closure       `json:"closure,omitempty" db:"-"`
	Postponement  *Postponement  `json:"postponement,omitempty" db:"-"`
	Goldness      *Goldness      `json:"goldness,omitempty" db:"-"`
	ActivitySpike *ActivitySpike `json:"activity_spike,omitempty" db:"-"`

	// AssigneeIDs is populated by queries that join with card_assignees,
	// sorted by user id.
	AssigneeIDs []string `json:"assignee_ids,omitempty" db:"-"`
}

// Open reports whether the card is published and neither closed nor
// postponed (i.e. awaiting triage or triaged).
func (c *Card) Open() bool {
	return c.Status == CardStatusPublished && c.Closure == nil && c.Postponement == nil
}

// Closed reports whether the card carries a Closure marker.
func (c *Card) Closed() bool {
	return c.Closure != nil
}

// Postponed reports whether the card carries a Postponement marker.
func (c *Card) Postponed() bool {
	return c.Postponement != nil
}

// Assignment records one user assigned to a card.
type Assignment struct {
	CardID     string    `json:"card_id" db:"card_id"`
	UserID     string    `json:"user_id" db:"user_id"`
	AssignedBy string    `json:"assigned_by" db:"assigned_by"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
