package model

import "time"

// NotificationSource identifies what triggered a notification.
type NotificationSource string

const (
	NotificationSourceEvent   NotificationSource = "event"
	NotificationSourceMention NotificationSource = "mention"
)

// Notification is one per-recipient record of something they should
// see. A nil ReadAt means unread.
type Notification struct {
	ID        string             `json:"id" db:"id"`
	TenantID  string             `json:"tenant_id" db:"tenant_id"`
	Recipient string             `json:"recipient" db:"recipient"`
	Actor     *string            `json:"actor,omitempty" db:"actor"`
	Source    NotificationSource `json:"source" db:"source_kind"`
	SourceID  string             `json:"source_id" db:"source_id"`
	ReadAt    *time.Time         `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}

// Mention is created by the rich-text collaborator when one user
// mentions another; the router turns it into a notification.
type Mention struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	CardID    string    `json:"card_id" db:"card_id"`
	Mentioner string    `json:"mentioner" db:"mentioner"`
	Mentionee string    `json:"mentionee" db:"mentionee"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
