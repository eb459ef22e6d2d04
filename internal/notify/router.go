// Package notify computes notification recipients for committed
// events and mentions, persists per-recipient notification rows, and
// batches unread notifications into non-overlapping bundle windows for
// email delivery.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nhle/cardflow/internal/collab"
	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
)

// ActivityNoter flags a postponed card that has seen fresh comment
// traffic. The lifecycle engine implements it.
type ActivityNoter interface {
	NoteActivity(ctx context.Context, tenantID, cardID string) (*model.Card, error)
}

// Router turns committed events and mentions into notification rows.
type Router struct {
	store     store.Store
	directory collab.Directory
	bundler   *Bundler
	activity  ActivityNoter
	logger    *slog.Logger

	now func() time.Time
}

// NewRouter creates a Router. activity may be nil when no lifecycle
// engine is wired (e.g. in isolation tests).
func NewRouter(
	s store.Store,
	directory collab.Directory,
	bundler *Bundler,
	activity ActivityNoter,
	logger *slog.Logger,
) *Router {
	return &Router{
		store:     s,
		directory: directory,
		bundler:   bundler,
		activity:  activity,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name identifies the router on the event log.
func (r *Router) Name() string { return "notification-router" }

// HandleEvent computes the recipient set for one committed event and
// writes exactly one notification row per recipient. Re-delivery of
// the same event inserts nothing new.
func (r *Router) HandleEvent(ctx context.Context, ev *model.Event) error {
	recipients, err := r.recipients(ctx, ev)
	if err != nil {
		return fmt.Errorf("computing recipients for event %s: %w", ev.ID, err)
	}
	if ev.Action == model.ActionCommentCreated {
		r.noteCommentActivity(ctx, ev)
	}
	if len(recipients) == 0 {
		return nil
	}

	// Insert in the recipient id's natural sort order so concurrent
	// fan-outs acquire row locks in a consistent order.
	sort.Strings(recipients)

	now := r.now()
	actor := ev.Actor
	notifications := make([]model.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		notifications = append(notifications, model.Notification{
			TenantID:  ev.TenantID,
			Recipient: recipient,
			Actor:     &actor,
			Source:    model.NotificationSourceEvent,
			SourceID:  ev.ID,
			CreatedAt: now,
		})
	}

	if _, err := r.store.CreateNotifications(ctx, notifications); err != nil {
		return fmt.Errorf("writing notifications for event %s: %w", ev.ID, err)
	}

	r.ensureWindows(ctx, ev.TenantID, recipients)
	return nil
}

// HandleMention writes a single notification for a mention, unless
// the user mentioned themselves.
func (r *Router) HandleMention(ctx context.Context, m model.Mention) error {
	if m.Mentioner == m.Mentionee {
		return nil
	}

	actor := m.Mentioner
	_, err := r.store.CreateNotifications(ctx, []model.Notification{{
		TenantID:  m.TenantID,
		Recipient: m.Mentionee,
		Actor:     &actor,
		Source:    model.NotificationSourceMention,
		SourceID:  m.ID,
		CreatedAt: r.now(),
	}})
	if err != nil {
		return fmt.Errorf("writing mention notification: %w", err)
	}

	r.ensureWindows(ctx, m.TenantID, []string{m.Mentionee})
	return nil
}

// recipients is the pure recipient computation: a function of the
// event's action tag and subject.
func (r *Router) recipients(ctx context.Context, ev *model.Event) ([]string, error) {
	switch ev.Action {
	case model.ActionCardAssigned:
		card, err := r.store.GetCard(ctx, ev.TenantID, ev.Subject.ID)
		if err != nil {
			return nil, err
		}
		return without(card.AssigneeIDs, ev.Actor), nil

	case model.ActionCardPublished:
		watchers, err := r.directory.BoardWatchers(ctx, ev.TenantID, ev.BoardID)
		if err != nil {
			return nil, err
		}
		card, err := r.store.GetCard(ctx, ev.TenantID, ev.Subject.ID)
		if err != nil {
			return nil, err
		}
		combined := union(watchers, card.AssigneeIDs)
		combined = without(combined, ev.Actor)
		return withoutAll(combined, ev.MentionedIDs()), nil

	case model.ActionCommentCreated:
		cardID, _ := ev.Metadata[model.MetaCardID].(string)
		if cardID == "" {
			return nil, fmt.Errorf("comment event %s has no card id", ev.ID)
		}
		watchers, err := r.directory.CardWatchers(ctx, ev.TenantID, cardID)
		if err != nil {
			return nil, err
		}
		watchers = without(watchers, ev.Actor)
		return withoutAll(watchers, ev.MentionedIDs()), nil

	default:
		watchers, err := r.directory.BoardWatchers(ctx, ev.TenantID, ev.BoardID)
		if err != nil {
			return nil, err
		}
		return without(watchers, ev.Actor), nil
	}
}

// ensureWindows opens (or extends into) a bundle window for each
// recipient with email bundling enabled. Window failures are logged,
// never propagated: the notification rows are already committed.
func (r *Router) ensureWindows(ctx context.Context, tenantID string, recipients []string) {
	for _, recipient := range recipients {
		prefs, err := r.directory.RecipientPrefs(ctx, tenantID, recipient)
		if err != nil {
			r.logger.Error("reading recipient prefs", "recipient", recipient, "error", err)
			continue
		}
		if !prefs.BundleEmail {
			continue
		}
		if err := r.bundler.EnsureWindow(ctx, tenantID, recipient, prefs.BundlePeriod); err != nil {
			r.logger.Error("ensuring bundle window", "recipient", recipient, "error", err)
		}
	}
}

// noteCommentActivity flags the commented card if it is postponed.
func (r *Router) noteCommentActivity(ctx context.Context, ev *model.Event) {
	if r.activity == nil {
		return
	}
	cardID, _ := ev.Metadata[model.MetaCardID].(string)
	if cardID == "" {
		return
	}
	if _, err := r.activity.NoteActivity(ctx, ev.TenantID, cardID); err != nil {
		r.logger.Error("noting comment activity", "card", cardID, "error", err)
	}
}

// without returns ids minus one excluded id, preserving order.
func without(ids []string, excluded string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != excluded {
			out = append(out, id)
		}
	}
	return out
}

// withoutAll returns ids minus every excluded id.
func withoutAll(ids, excluded []string) []string {
	if len(excluded) == 0 {
		return ids
	}
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}
	out := ids[:0:0]
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}

// union merges two id lists, deduplicating.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
