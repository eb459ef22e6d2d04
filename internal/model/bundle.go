package model

import "time"

// Bundle status constants.
const (
	BundleStatusPending    = "pending"
	BundleStatusProcessing = "processing"
	BundleStatusDelivered  = "delivered"
)

// NotificationBundle aggregates one recipient's unread notifications
// over the half-open window [StartsAt, EndsAt) for batched email
// delivery. Windows for one recipient never overlap.
type NotificationBundle struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	Recipient string    `json:"recipient" db:"recipient"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RecipientPrefs holds a recipient's notification delivery settings,
// supplied by the user-settings collaborator.
type RecipientPrefs struct {
	// Email is where bundled notifications are sent.
	Email string `json:"email"`

	// BundleEmail controls whether the recipient receives batched
	// email at all.
	BundleEmail bool `json:"bundle_email"`

	// BundlePeriod is the width of each bundle window.
	BundlePeriod time.Duration `json:"bundle_period"`
}
