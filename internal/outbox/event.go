package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the business effect an event carries. The set is
// closed: every type maps to exactly one registered handler.
type EventType string

const (
	TypeEstimateRequested EventType = "estimate.requested"
	TypeMessageSend       EventType = "message.send"
	TypeFollowupSend      EventType = "followup.send"
	TypeEstimateReminder  EventType = "estimate.reminder"
	TypeEscalationCall    EventType = "sales.escalation.call"
	TypeTaskReminderSMS   EventType = "crm.reminder.sms"
	TypeLeadAlert         EventType = "lead.alert"
	TypeMetaLeadEvent     EventType = "meta.lead_event"
	TypeStageChanged      EventType = "pipeline.stage.changed"
)

// Event is a durable outbox entry. Rows are written transactionally with
// the state change that triggered them and mutated only by the dispatcher,
// except that schedulers may delete not-yet-processed rows they supersede.
//
// Invariants: processed_at == nil means pending; a pending row is eligible
// when next_attempt_at is nil or in the past and no live claim holds it;
// attempts never decreases.
type Event struct {
	ID            int64           `json:"id,string"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	LockedAt      *time.Time      `json:"locked_at,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Pending reports whether the event still awaits processing.
func (e *Event) Pending() bool {
	return e.ProcessedAt == nil
}

// NewEvent builds an immediately-due event carrying the marshaled payload.
func NewEvent(t EventType, payload any) (*Event, error) {
	return NewEventAt(t, payload, nil)
}

// NewEventAt builds an event due at the given instant (nil means now).
func NewEventAt(t EventType, payload any, dueAt *time.Time) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	now := time.Now().UTC()
	return &Event{
		EventType:     t,
		Payload:       raw,
		NextAttemptAt: dueAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
