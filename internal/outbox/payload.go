package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload shapes, one per event type. Field names match the wire keys the
// product's write paths emit.

type EstimateRequestedPayload struct {
	AppointmentID int64    `json:"appointmentId"`
	Services      []string `json:"services"`
	Scheduling    string   `json:"scheduling,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

type MessageSendPayload struct {
	MessageID int64 `json:"messageId"`
}

type FollowupSendPayload struct {
	LeadID   int64     `json:"leadId"`
	Channel  string    `json:"channel"`
	Step     int       `json:"step"`
	AnchorAt time.Time `json:"anchorAt"`
}

type EstimateReminderPayload struct {
	AppointmentID int64 `json:"appointmentId"`
	WindowMinutes int   `json:"windowMinutes"`
}

// Escalation call modes.
const (
	EscalationModeInstant = "instant"
	EscalationModeDue     = "due"
)

type EscalationCallPayload struct {
	TaskID int64  `json:"taskId"`
	Mode   string `json:"mode"`
}

type TaskReminderPayload struct {
	TaskID int64 `json:"taskId"`
}

type LeadAlertPayload struct {
	LeadID     int64    `json:"leadId"`
	Recipients []string `json:"recipients"`
}

type MetaLeadEventPayload struct {
	LeadID    int64  `json:"leadId"`
	EventName string `json:"eventName"`
}

type StageChangedPayload struct {
	LeadID int64             `json:"leadId"`
	From   string            `json:"from"`
	To     string            `json:"to"`
	Reason string            `json:"reason,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// DecodePayload validates and decodes an event's payload at the dispatcher
// boundary, returning the typed variant for its event type. Unknown types
// and malformed payloads are terminal.
func DecodePayload(ev *Event) (any, error) {
	switch ev.EventType {
	case TypeEstimateRequested:
		return decodeInto[EstimateRequestedPayload](ev, func(p *EstimateRequestedPayload) error {
			if p.AppointmentID == 0 {
				return fmt.Errorf("appointmentId required")
			}
			return nil
		})
	case TypeMessageSend:
		return decodeInto[MessageSendPayload](ev, func(p *MessageSendPayload) error {
			if p.MessageID == 0 {
				return fmt.Errorf("messageId required")
			}
			return nil
		})
	case TypeFollowupSend:
		return decodeInto[FollowupSendPayload](ev, func(p *FollowupSendPayload) error {
			if p.LeadID == 0 {
				return fmt.Errorf("leadId required")
			}
			if p.Channel == "" {
				return fmt.Errorf("channel required")
			}
			if p.Step < 0 {
				return fmt.Errorf("step must be non-negative")
			}
			return nil
		})
	case TypeEstimateReminder:
		return decodeInto[EstimateReminderPayload](ev, func(p *EstimateReminderPayload) error {
			if p.AppointmentID == 0 {
				return fmt.Errorf("appointmentId required")
			}
			if p.WindowMinutes <= 0 {
				return fmt.Errorf("windowMinutes must be positive")
			}
			return nil
		})
	case TypeEscalationCall:
		return decodeInto[EscalationCallPayload](ev, func(p *EscalationCallPayload) error {
			if p.TaskID == 0 {
				return fmt.Errorf("taskId required")
			}
			if p.Mode != EscalationModeInstant && p.Mode != EscalationModeDue {
				return fmt.Errorf("invalid mode %q", p.Mode)
			}
			return nil
		})
	case TypeTaskReminderSMS:
		return decodeInto[TaskReminderPayload](ev, func(p *TaskReminderPayload) error {
			if p.TaskID == 0 {
				return fmt.Errorf("taskId required")
			}
			return nil
		})
	case TypeLeadAlert:
		return decodeInto[LeadAlertPayload](ev, func(p *LeadAlertPayload) error {
			if p.LeadID == 0 {
				return fmt.Errorf("leadId required")
			}
			return nil
		})
	case TypeMetaLeadEvent:
		return decodeInto[MetaLeadEventPayload](ev, func(p *MetaLeadEventPayload) error {
			if p.LeadID == 0 {
				return fmt.Errorf("leadId required")
			}
			if p.EventName == "" {
				return fmt.Errorf("eventName required")
			}
			return nil
		})
	case TypeStageChanged:
		return decodeInto[StageChangedPayload](ev, func(p *StageChangedPayload) error {
			if p.LeadID == 0 {
				return fmt.Errorf("leadId required")
			}
			if p.To == "" {
				return fmt.Errorf("target stage required")
			}
			return nil
		})
	default:
		return nil, fmt.Errorf("unsupported event type %q", ev.EventType)
	}
}

// Decode unmarshals the event payload into T. Handlers use it after the
// dispatcher has already validated the payload, so failures here indicate a
// type registered against the wrong handler.
func Decode[T any](ev *Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
	}
	return out, nil
}

func decodeInto[T any](ev *Event, validate func(*T) error) (any, error) {
	var out T
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
	}
	if err := validate(&out); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", ev.EventType, err)
	}
	return out, nil
}
