package model

import "time"

// Action identifies one kind of lifecycle activity recorded in the
// event log.
type Action string

// The fixed set of recordable actions.
const (
	ActionCardPublished        Action = "card_published"
	ActionCardTriaged          Action = "card_triaged"
	ActionCardSentBackToTriage Action = "card_sent_back_to_triage"
	ActionCardClosed           Action = "card_closed"
	ActionCardReopened         Action = "card_reopened"
	ActionCardPostponed        Action = "card_postponed"
	ActionCardAutoPostponed    Action = "card_auto_postponed"
	ActionCardResumed          Action = "card_resumed"
	ActionCardBoardChanged     Action = "card_board_changed"
	ActionCardTitleChanged     Action = "card_title_changed"
	ActionCardAssigned         Action = "card_assigned"
	ActionCardUnassigned       Action = "card_unassigned"
	ActionCardGilded           Action = "card_gilded"
	ActionCardUngilded         Action = "card_ungilded"
	ActionCommentCreated       Action = "comment_created"
)

// SystemActor is the distinguished actor id used for transitions driven
// by the system itself rather than a person (e.g. the entropy sweep).
const SystemActor = "system"

// SubjectKind enumerates the entity kinds an event or notification may
// reference.
type SubjectKind string

const (
	SubjectCard    SubjectKind = "card"
	SubjectComment SubjectKind = "comment"
	SubjectEvent   SubjectKind = "event"
	SubjectMention SubjectKind = "mention"
)

// Subject is a closed tagged reference to the entity an event is about.
type Subject struct {
	Kind SubjectKind `json:"kind" db:"subject_kind"`
	ID   string      `json:"id" db:"subject_id"`
}

// Metadata keys used in event payloads.
const (
	MetaColumnID     = "column_id"
	MetaBoardName    = "board_name"
	MetaTitleFrom    = "from"
	MetaTitleTo      = "to"
	MetaAssigneeIDs  = "assignee_ids"
	MetaAssignee     = "assignee_id"
	MetaMentionedIDs = "mentioned_user_ids"
	MetaCommenter    = "commenter_id"
	MetaCardID       = "card_id"
)

// Event is one immutable audit record. It is never updated or deleted
// after creation.
type Event struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	BoardID  string `json:"board_id" db:"board_id"`

	// Actor is the user (or SystemActor) who caused the action.
	Actor string `json:"actor" db:"actor"`

	Action  Action  `json:"action" db:"action"`
	Subject Subject `json:"subject"`

	// Metadata is a free-form structured payload, stored as JSON.
	Metadata map[string]any `json:"metadata,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MentionedIDs extracts the mentioned-user id list from the event
// metadata, tolerating both []string and []any (the post-JSON shape).
func (e *Event) MentionedIDs() []string {
	raw, ok := e.Metadata[MetaMentionedIDs]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
		return ids
	}
	return nil
}
