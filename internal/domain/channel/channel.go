package channel

import (
	"context"
	"time"
)

// Channel identifies an outbound communication channel.
type Channel string

const (
	SMS   Channel = "sms"
	Email Channel = "email"
	DM    Channel = "dm"
	Voice Channel = "voice"
)

// Valid reports whether the channel is a known messaging channel.
func (c Channel) Valid() bool {
	switch c {
	case SMS, Email, DM, Voice:
		return true
	default:
		return false
	}
}

// SendResult is the outcome of a provider send attempt.
type SendResult struct {
	OK       bool
	Provider string
	Detail   string // provider failure detail, classified by the retry policy
}

// Message carries the provider-facing fields of an outbound send.
type Message struct {
	To   string
	Body string
	Meta map[string]string
}

// Messenger sends conversation messages through the external gateway.
type Messenger interface {
	SendSMS(ctx context.Context, msg Message) (SendResult, error)
	SendEmail(ctx context.Context, msg Message) (SendResult, error)
	SendDM(ctx context.Context, msg Message) (SendResult, error)
	// SendDMTyping toggles the typing indicator on the DM channel.
	SendDMTyping(ctx context.Context, to string, on bool) error
}

// Dialer places outbound voice calls.
type Dialer interface {
	PlaceCall(ctx context.Context, to string, meta map[string]string) (SendResult, error)
}

// CalendarEvent is the channel-agnostic calendar payload.
type CalendarEvent struct {
	ExternalID  string
	Title       string
	Description string
	StartAt     time.Time
	EndAt       time.Time
	Attendees   []string
}

// Calendar syncs appointments to the external calendar provider.
type Calendar interface {
	CreateEvent(ctx context.Context, ev CalendarEvent) (string, error)
	UpdateEvent(ctx context.Context, ev CalendarEvent) error
}

// LeadEvent is an ad-platform conversion signal.
type LeadEvent struct {
	LeadID    int64
	EventName string
	Email     string
	Phone     string
	EventTime time.Time
}

// AdsSink forwards lead conversion events to the ad platform.
type AdsSink interface {
	SendLeadEvent(ctx context.Context, ev LeadEvent) error
}
