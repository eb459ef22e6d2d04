package lifecycle

import (
	"errors"
	"fmt"

	"github.com/nhle/cardflow/internal/model"
)

// InvalidTransitionError indicates an attempted state change that is
// not legal from the card's current state. The card is left untouched
// and no event is recorded.
type InvalidTransitionError struct {
	CardID    string
	Attempted string
	State     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf(
		"invalid transition %q for card %s (state %s)",
		e.Attempted, e.CardID, e.State,
	)
}

// IsInvalidTransition reports whether err (or any error in its chain)
// is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// AssignmentLimitError indicates an assignment that would exceed the
// per-card assignee cap. Nothing is persisted.
type AssignmentLimitError struct {
	CardID string
	Limit  int
}

func (e *AssignmentLimitError) Error() string {
	return fmt.Sprintf(
		"card %s already has %d assignees", e.CardID, e.Limit,
	)
}

// IsAssignmentLimitExceeded reports whether err (or any error in its
// chain) is an AssignmentLimitError.
func IsAssignmentLimitExceeded(err error) bool {
	var target *AssignmentLimitError
	return errors.As(err, &target)
}

// stateName describes a card's lifecycle state for error messages.
func stateName(card *model.Card) string {
	switch {
	case card.Status == model.CardStatusDrafted:
		return "drafted"
	case card.Closed():
		return "closed"
	case card.Postponed():
		return "not_now"
	case card.ColumnID != nil:
		return "triaged"
	default:
		return "awaiting_triage"
	}
}
