package models

import "time"

// EventType enumerates outbound notifications consumed by the chat
// adapter. Each event carries enough data to render a message and
// reconcile role/channel membership.
type EventType string

const (
	EventGroupAssigned     EventType = "group_assigned"
	EventPromoted          EventType = "promoted"
	EventBonusAwarded      EventType = "bonus_awarded"
	EventWaitingListAdded  EventType = "waiting_list_added"
	EventReviewQuestionDue EventType = "review_question_due"
)

// Event is the outbox payload published to the chat adapter. Delivery
// failures are logged and never treated as data-layer errors.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	StudentID  string                 `json:"student_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
