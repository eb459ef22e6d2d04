// Package lifecycle enforces the card state machine. A card is
// drafted until published; once published it is awaiting triage (no
// column), triaged (column assigned), not-now (postponed), or closed.
// Every transition mutates the card and appends exactly one audit
// event in the same transaction, then hands the committed event to the
// fan-out consumers.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nhle/cardflow/internal/collab"
	"github.com/nhle/cardflow/internal/eventlog"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
)

// Engine executes lifecycle transitions. Transitions on the same card
// are serialized by a per-card lock; transitions on different cards
// run concurrently.
type Engine struct {
	store     store.Store
	log       *eventlog.Log
	directory collab.Directory
	access    collab.AccessGranter
	locks     *cardLocks
	logger    *slog.Logger

	// now is the transition clock, replaceable in tests.
	now func() time.Time
}

// New creates an Engine over the given store and event log.
func New(
	s store.Store,
	log *eventlog.Log,
	directory collab.Directory,
	access collab.AccessGranter,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:     s,
		log:       log,
		directory: directory,
		access:    access,
		locks:     newCardLocks(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the engine's clock. Tests use it to drive
// time-sensitive transitions.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Create inserts a new drafted card, allocating its per-tenant
// sequential number. Drafts are invisible, so no event is recorded.
func (e *Engine) Create(ctx context.Context, tenantID, boardID, title, creator string) (*model.Card, error) {
	now := e.now()
	card := &model.Card{
		TenantID:     tenantID,
		BoardID:      boardID,
		Status:       model.CardStatusDrafted,
		Title:        title,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.CreateCard(ctx, card); err != nil {
		return nil, fmt.Errorf("creating card: %w", err)
	}
	return card, nil
}

// Publish makes a drafted card visible. mentionedIDs carries users
// mentioned in the publish text; the notification router excludes
// them from the watcher fan-out because their mentions notify them
// directly.
func (e *Engine) Publish(ctx context.Context, tenantID, cardID, actor string, mentionedIDs []string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Status != model.CardStatusDrafted {
			return nil, &InvalidTransitionError{
				CardID: cardID, Attempted: "publish", State: stateName(card),
			}
		}
		card.Status = model.CardStatusPublished

		var metadata map[string]any
		if len(mentionedIDs) > 0 {
			metadata = map[string]any{model.MetaMentionedIDs: mentionedIDs}
		}
		return e.newEvent(card, actor, model.ActionCardPublished, metadata), nil
	})
}

// TriageInto assigns the card to a column. Valid from any open state;
// a postponed card is resumed implicitly, without a card_resumed
// event. Moving between columns is the same operation repeated.
func (e *Engine) TriageInto(ctx context.Context, tenantID, cardID, columnID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Status != model.CardStatusPublished || card.Closed() {
			return nil, &InvalidTransitionError{
				CardID: cardID, Attempted: "triage", State: stateName(card),
			}
		}
		card.Postponement = nil
		card.ActivitySpike = nil
		card.ColumnID = &columnID

		return e.newEvent(card, actor, model.ActionCardTriaged, map[string]any{
			model.MetaColumnID: columnID,
		}), nil
	})
}

// SendBackToTriage clears the card's column assignment.
func (e *Engine) SendBackToTriage(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Status != model.CardStatusPublished || card.Closed() {
			return nil, &InvalidTransitionError{
				CardID: cardID, Attempted: "send_back_to_triage", State: stateName(card),
			}
		}
		card.ColumnID = nil
		return e.newEvent(card, actor, model.ActionCardSentBackToTriage, nil), nil
	})
}

// Close marks the card closed. Closing an already-closed card is a
// successful no-op that records nothing.
func (e *Engine) Close(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Closed() {
			return nil, nil
		}
		card.Postponement = nil
		card.ActivitySpike = nil
		card.Closure = &model.Closure{ClosedBy: actor, ClosedAt: now}
		return e.newEvent(card, actor, model.ActionCardClosed, nil), nil
	})
}

// Reopen removes the card's closure.
func (e *Engine) Reopen(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if !card.Closed() {
			return nil, &InvalidTransitionError{
				CardID: cardID, Attempted: "reopen", State: stateName(card),
			}
		}
		card.Closure = nil
		return e.newEvent(card, actor, model.ActionCardReopened, nil), nil
	})
}

// Postpone marks the card "not now". A closed card is reopened first
// without a card_reopened event; the postponement absorbs the reopen.
// The system actor produces card_auto_postponed, a person
// card_postponed; the transitions are otherwise identical. Postponing
// a postponed card is a no-op.
func (e *Engine) Postpone(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Postponed() {
			return nil, nil
		}
		card.Closure = nil
		card.ColumnID = nil
		card.Postponement = &model.Postponement{PostponedBy: actor, PostponedAt: now}

		action := model.ActionCardPostponed
		if actor == model.SystemActor {
			action = model.ActionCardAutoPostponed
		}
		return e.newEvent(card, actor, action, nil), nil
	})
}

// Resume lifts a postponement, clearing any activity-spike marker
// with it.
func (e *Engine) Resume(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if !card.Postponed() {
			return nil, &InvalidTransitionError{
				CardID: cardID, Attempted: "resume", State: stateName(card),
			}
		}
		card.Postponement = nil
		card.ActivitySpike = nil
		return e.newEvent(card, actor, model.ActionCardResumed, nil), nil
	})
}

// MoveToBoard reassigns the card to another board. The column
// survives only if the destination board has an identically named
// column. Current assignees are granted access on the destination
// board through the access collaborator.
func (e *Engine) MoveToBoard(ctx context.Context, tenantID, cardID, newBoardID, actor string) (*model.Card, error) {
	card, err := e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.ColumnID != nil {
			name, err := e.directory.ColumnName(ctx, tenantID, *card.ColumnID)
			if err != nil {
				return nil, fmt.Errorf("resolving column name: %w", err)
			}
			matchID, err := e.directory.ColumnNamed(ctx, tenantID, newBoardID, name)
			if err != nil {
				return nil, fmt.Errorf("matching column on destination board: %w", err)
			}
			if matchID == "" {
				card.ColumnID = nil
			} else {
				card.ColumnID = &matchID
			}
		}
		card.BoardID = newBoardID

		boardName, err := e.directory.BoardName(ctx, tenantID, newBoardID)
		if err != nil {
			return nil, fmt.Errorf("resolving board name: %w", err)
		}
		return e.newEvent(card, actor, model.ActionCardBoardChanged, map[string]any{
			model.MetaBoardName: boardName,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	// Access grants are delegated to the surrounding product and are
	// not part of the transition's atomic unit.
	if len(card.AssigneeIDs) > 0 {
		if err := e.access.GrantBoardAccess(ctx, tenantID, newBoardID, card.AssigneeIDs); err != nil {
			e.logger.Error("granting board access after move",
				"card", cardID, "board", newBoardID, "error", err)
		}
	}
	return card, nil
}

// ChangeTitle renames the card, recording old and new titles. Setting
// the same title is a no-op.
func (e *Engine) ChangeTitle(ctx context.Context, tenantID, cardID, newTitle, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Title == newTitle {
			return nil, nil
		}
		oldTitle := card.Title
		card.Title = newTitle
		return e.newEvent(card, actor, model.ActionCardTitleChanged, map[string]any{
			model.MetaTitleFrom: oldTitle,
			model.MetaTitleTo:   newTitle,
		}), nil
	})
}

// Gild sets the goldness marker. Gilding a gilded card is a no-op.
func (e *Engine) Gild(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Goldness != nil {
			return nil, nil
		}
		card.Goldness = &model.Goldness{GildedBy: actor, GildedAt: now}
		return e.newEvent(card, actor, model.ActionCardGilded, nil), nil
	})
}

// Ungild removes the goldness marker. A no-op if absent.
func (e *Engine) Ungild(ctx context.Context, tenantID, cardID, actor string) (*model.Card, error) {
	return e.transition(ctx, tenantID, cardID, func(card *model.Card, now time.Time) (*model.Event, error) {
		if card.Goldness == nil {
			return nil, nil
		}
		card.Goldness = nil
		return e.newEvent(card, actor, model.ActionCardUngilded, nil), nil
	})
}

// NoteActivity marks a postponed card with an activity spike when
// comment traffic arrives on it. No event is recorded and the card's
// activity clock is untouched; Resume clears the marker.
func (e *Engine) NoteActivity(ctx context.Context, tenantID, cardID string) (*model.Card, error) {
	release := e.locks.acquire(cardID)
	defer release()

	card, err := e.store.GetCard(ctx, tenantID, cardID)
	if err != nil {
		return nil, err
	}
	if !card.Postponed() || card.ActivitySpike != nil {
		return card, nil
	}

	card.ActivitySpike = &model.ActivitySpike{SpikedAt: e.now()}
	card.UpdatedAt = e.now()
	if err := e.store.UpdateCard(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// Assign adds an assignee, enforcing the hard cap. Assigning an
// already-assigned user is a no-op.
func (e *Engine) Assign(ctx context.Context, tenantID, cardID, assignee, assigner string) (*model.Card, error) {
	release := e.locks.acquire(cardID)
	defer release()

	card, err := e.store.GetCard(ctx, tenantID, cardID)
	if err != nil {
		return nil, err
	}

	for _, id := range card.AssigneeIDs {
		if id == assignee {
			return card, nil
		}
	}
	if len(card.AssigneeIDs) >= model.MaxAssignees {
		return nil, &AssignmentLimitError{CardID: cardID, Limit: model.MaxAssignees}
	}

	now := e.now()
	card.AssigneeIDs = append(card.AssigneeIDs, assignee)
	sort.Strings(card.AssigneeIDs)
	card.LastActiveAt = now
	card.UpdatedAt = now

	ev := e.newEvent(card, assigner, model.ActionCardAssigned, map[string]any{
		model.MetaAssignee:    assignee,
		model.MetaAssigneeIDs: card.AssigneeIDs,
	})
	ev.CreatedAt = now

	persisted, err := e.store.AddAssigneeWithEvent(ctx, card, model.Assignment{
		CardID:     cardID,
		UserID:     assignee,
		AssignedBy: assigner,
		CreatedAt:  now,
	}, ev)
	if err != nil {
		return nil, err
	}

	e.log.Announce(persisted)
	return card, nil
}

// Unassign removes an assignee. Removing a user who is not assigned
// is a no-op.
func (e *Engine) Unassign(ctx context.Context, tenantID, cardID, assignee, actor string) (*model.Card, error) {
	release := e.locks.acquire(cardID)
	defer release()

	card, err := e.store.GetCard(ctx, tenantID, cardID)
	if err != nil {
		return nil, err
	}

	found := false
	remaining := card.AssigneeIDs[:0:0]
	for _, id := range card.AssigneeIDs {
		if id == assignee {
			found = true
			continue
		}
		remaining = append(remaining, id)
	}
	if !found {
		return card, nil
	}

	now := e.now()
	card.AssigneeIDs = remaining
	card.LastActiveAt = now
	card.UpdatedAt = now

	ev := e.newEvent(card, actor, model.ActionCardUnassigned, map[string]any{
		model.MetaAssignee:    assignee,
		model.MetaAssigneeIDs: card.AssigneeIDs,
	})
	ev.CreatedAt = now

	persisted, err := e.store.RemoveAssigneeWithEvent(ctx, card, assignee, ev)
	if err != nil {
		return nil, err
	}

	e.log.Announce(persisted)
	return card, nil
}

// transition runs one serialized read-validate-mutate-commit cycle.
// The mutate callback returns the single event to append, or nil for
// a successful no-op that persists nothing.
func (e *Engine) transition(
	ctx context.Context,
	tenantID, cardID string,
	mutate func(card *model.Card, now time.Time) (*model.Event, error),
) (*model.Card, error) {
	release := e.locks.acquire(cardID)
	defer release()

	card, err := e.store.GetCard(ctx, tenantID, cardID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	ev, err := mutate(card, now)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return card, nil
	}

	card.LastActiveAt = now
	card.UpdatedAt = now
	ev.CreatedAt = now

	persisted, err := e.store.CommitTransition(ctx, card, ev)
	if err != nil {
		return nil, err
	}

	e.log.Announce(persisted)
	return card, nil
}

// newEvent builds the audit record for a transition on card.
func (e *Engine) newEvent(card *model.Card, actor string, action model.Action, metadata map[string]any) *model.Event {
	return &model.Event{
		TenantID: card.TenantID,
		BoardID:  card.BoardID,
		Actor:    actor,
		Action:   action,
		Subject:  model.Subject{Kind: model.SubjectCard, ID: card.ID},
		Metadata: metadata,
	}
}
