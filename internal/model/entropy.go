package model

import "time"

// DefaultEntropyPeriod is the auto-postpone period applied when
// neither a board-level nor an account-level setting exists.
const DefaultEntropyPeriod = 30 * 24 * time.Hour

// Entropy scope constants.
const (
	EntropyScopeAccount = "account"
	EntropyScopeBoard   = "board"
)

// EntropySetting attaches an auto-postpone period to an account or a
// board. A board-level setting overrides the account-level one.
type EntropySetting struct {
	TenantID  string `json:"tenant_id" db:"tenant_id"`
	Scope     string `json:"scope" db:"scope"`
	ScopeID   string `json:"scope_id" db:"scope_id"`
	PeriodSec int64  `json:"period_sec" db:"period_sec"`
}

// Period returns the setting's period as a duration.
func (e *EntropySetting) Period() time.Duration {
	return time.Duration(e.PeriodSec) * time.Second
}
