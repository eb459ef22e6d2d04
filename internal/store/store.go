package store

import (
	"context"
	"time"

	"github.com/nhle/cardflow/internal/model"
)

// Store defines the persistence interface for cards, events,
// notifications, bundles, webhooks, and entropy settings.
type Store interface {
	// === Cards ===

	CreateCard(ctx context.Context, card *model.Card) error
	GetCard(ctx context.Context, tenantID, id string) (*model.Card, error)
	UpdateCard(ctx context.Context, card *model.Card) error
	CommitTransition(ctx context.Context, card *model.Card, ev *model.Event) (*model.Event, error)
	AddAssigneeWithEvent(ctx context.Context, card *model.Card, a model.Assignment, ev *model.Event) (*model.Event, error)
	RemoveAssigneeWithEvent(ctx context.Context, card *model.Card, userID string, ev *model.Event) (*model.Event, error)

	// === Events ===

	AppendEvent(ctx context.Context, ev *model.Event) (*model.Event, error)
	GetEvent(ctx context.Context, tenantID, id string) (*model.Event, error)
	EventsForSubject(ctx context.Context, tenantID string, subject model.Subject) ([]model.Event, error)

	// === Notifications ===

	CreateNotifications(ctx context.Context, notifications []model.Notification) (int, error)
	UnreadNotifications(ctx context.Context, tenantID, recipient string, from, to time.Time) ([]model.Notification, error)
	NotificationsForRecipient(ctx context.Context, tenantID, recipient string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, tenantID, id string) error

	// === Notification bundles ===

	LatestBundle(ctx context.Context, tenantID, recipient string) (*model.NotificationBundle, error)
	CreateBundle(ctx context.Context, b *model.NotificationBundle) error
	DueBundles(ctx context.Context, now time.Time) ([]model.NotificationBundle, error)
	ClaimBundle(ctx context.Context, id string) (bool, error)
	MarkBundleDelivered(ctx context.Context, id string) error

	// === Webhooks ===

	CreateWebhook(ctx context.Context, w *model.Webhook) error
	GetWebhook(ctx context.Context, tenantID, id string) (*model.Webhook, error)
	MatchingWebhooks(ctx context.Context, tenantID, boardID string, action model.Action) ([]model.Webhook, error)
	CreateDelivery(ctx context.Context, d *model.WebhookDelivery) error
	UpdateDelivery(ctx context.Context, d *model.WebhookDelivery) error
	DeliveryForEvent(ctx context.Context, webhookID, eventID string) (*model.WebhookDelivery, error)
	DeliveriesForWebhook(ctx context.Context, webhookID string) ([]model.WebhookDelivery, error)
	RecordWebhookFailure(ctx context.Context, webhookID string, now time.Time) (bool, error)
	ResetDelinquency(ctx context.Context, webhookID string) error
	GetDelinquency(ctx context.Context, webhookID string) (*model.DelinquencyTracker, error)

	// === Entropy ===

	UpsertEntropySetting(ctx context.Context, setting model.EntropySetting) error
	DeleteEntropySetting(ctx context.Context, tenantID, scope, scopeID string) error
	StaleOpenCards(ctx context.Context, now time.Time) ([]model.Card, error)
	PostponingSoon(ctx context.Context, tenantID string, now time.Time) ([]model.Card, error)
}
