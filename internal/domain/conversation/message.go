package conversation

import (
	"errors"
	"time"
)

// Direction distinguishes inbound from outbound messages.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DeliveryStatus represents the send state of an outbound message.
// Inbound messages are always stored as sent.
type DeliveryStatus string

const (
	StatusQueued DeliveryStatus = "queued"
	StatusSent   DeliveryStatus = "sent"
	StatusFailed DeliveryStatus = "failed"
)

var (
	ErrThreadNotFound  = errors.New("conversation thread not found")
	ErrMessageNotFound = errors.New("conversation message not found")
)

// Metadata keys stamped on messages by the delivery pipeline.
const (
	MetaAutomated    = "automated"         // "true" when queued by a scheduler
	MetaQuietExempt  = "quiet_exempt"      // "true" bypasses quiet-hours deferral
	MetaHumanDelayMS = "human_delay_ms"    // requested DM pacing delay
	MetaTypingStamp  = "typing_stamped_at" // RFC3339; set once typing has been signalled
	MetaProviderHint = "provider_hint"
	MetaTemplate     = "template"
	MetaFollowupStep = "followup_step"
)

// Thread groups messages by lead and channel.
type Thread struct {
	ID      int64  `json:"id,string"`
	LeadID  int64  `json:"lead_id,string"`
	Channel string `json:"channel"`

	// ParticipantAddress is the remote address of the most recent inbound
	// sender, used as the DM recipient fallback.
	ParticipantAddress string `json:"participant_address"`

	LastInboundAt *time.Time `json:"last_inbound_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Message is a single conversation message.
type Message struct {
	ID       int64 `json:"id,string"`
	ThreadID int64 `json:"thread_id,string"`
	LeadID   int64 `json:"lead_id,string"`

	Channel   string            `json:"channel"`
	Direction Direction         `json:"direction"`
	Status    DeliveryStatus    `json:"status"`
	ToAddress string            `json:"to_address"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewOutbound creates a queued outbound message on a thread.
func NewOutbound(threadID, leadID int64, ch, to, body string, meta map[string]string) *Message {
	if meta == nil {
		meta = map[string]string{}
	}
	now := time.Now().UTC()
	return &Message{
		ThreadID:  threadID,
		LeadID:    leadID,
		Channel:   ch,
		Direction: Outbound,
		Status:    StatusQueued,
		ToAddress: to,
		Body:      body,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Meta returns a metadata value, empty when absent.
func (m *Message) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetMeta stamps a metadata value.
func (m *Message) SetMeta(key, value string) {
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	m.Metadata[key] = value
}

// Automated reports whether the message was queued by a scheduler rather
// than an operator.
func (m *Message) Automated() bool {
	return m.Meta(MetaAutomated) == "true"
}

// MarkSent flips the message to sent.
func (m *Message) MarkSent() {
	now := time.Now().UTC()
	m.Status = StatusSent
	m.SentAt = &now
	m.UpdatedAt = now
}

// MarkFailed flips the message to terminal failed.
func (m *Message) MarkFailed() {
	m.Status = StatusFailed
	m.UpdatedAt = time.Now().UTC()
}
