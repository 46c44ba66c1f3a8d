package crm

import "time"

// QuoteStatus represents the decision state of a quote.
type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteSent     QuoteStatus = "sent"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteDeclined QuoteStatus = "declined"
)

// Quote is a priced estimate sent to a lead.
type Quote struct {
	ID     int64 `json:"id,string"`
	LeadID int64 `json:"lead_id,string"`

	Status      QuoteStatus `json:"status"`
	TotalCents  int64       `json:"total_cents"`
	Services    []string    `json:"services"`
	ValidUntil  *time.Time  `json:"valid_until,omitempty"`
	Description string      `json:"description"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Decided reports whether the customer has responded to the quote.
func (q *Quote) Decided() bool {
	return q.Status == QuoteAccepted || q.Status == QuoteDeclined
}
