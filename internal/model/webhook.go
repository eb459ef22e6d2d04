package model

import "time"

// WebhookDelivery state constants.
const (
	DeliveryStatePending    = "pending"
	DeliveryStateInProgress = "in_progress"
	DeliveryStateCompleted  = "completed"
	DeliveryStateErrored    = "errored"
)

// Delinquency thresholds: a webhook that fails DelinquencyLimit times
// in a row within DelinquencyWindow is deactivated.
const (
	DelinquencyLimit  = 10
	DelinquencyWindow = time.Hour
)

// Webhook is one configured outbound endpoint subscribed to a set of
// actions on a board.
type Webhook struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	BoardID  string `json:"board_id" db:"board_id"`
	URL      string `json:"url" db:"url"`

	// Secret signs every outgoing payload (HMAC-SHA256 over the raw
	// body).
	Secret string `json:"-" db:"secret"`

	// Actions is the set of subscribed action tags, stored as a JSON
	// array.
	Actions []Action `json:"actions" db:"-"`

	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscribed reports whether the webhook wants events with the given
// action tag.
func (w *Webhook) Subscribed(action Action) bool {
	for _, a := range w.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// WebhookDelivery records a single delivery attempt: the request that
// was (or would have been) sent and whatever response came back.
type WebhookDelivery struct {
	ID        string `json:"id" db:"id"`
	WebhookID string `json:"webhook_id" db:"webhook_id"`
	EventID   string `json:"event_id" db:"event_id"`
	State     string `json:"state" db:"state"`

	RequestBody    string `json:"request_body" db:"request_body"`
	ResponseStatus *int   `json:"response_status,omitempty" db:"response_status"`
	ResponseBody   string `json:"response_body" db:"response_body"`

	// Error holds the failure description for errored deliveries,
	// including SSRF rejections that never opened a socket.
	Error string `json:"error,omitempty" db:"error"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// DelinquencyTracker counts consecutive delivery failures for one
// webhook. FirstFailureAt anchors the current failure streak; a nil
// value means the webhook is healthy.
type DelinquencyTracker struct {
	WebhookID           string     `json:"webhook_id" db:"webhook_id"`
	ConsecutiveFailures int        `json:"consecutive_failures" db:"consecutive_failures"`
	FirstFailureAt      *time.Time `json:"first_failure_at,omitempty" db:"first_failure_at"`
}
