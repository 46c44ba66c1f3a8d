// Package notify assembles channel-agnostic notification payloads from the
// relational store.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
)

// Payload is the channel-agnostic notification snapshot handed to message
// rendering.
type Payload struct {
	LeadID        int64
	CustomerName  string
	Email         string
	Phone         string
	Address       string
	Service       string
	StartAt       time.Time
	RescheduleURL string
	QuoteTotal    int64
	Notes         string
}

// Overrides are caller-supplied values taking precedence over stored data.
type Overrides struct {
	CustomerName string
	Service      string
	Notes        string
}

// Builder reads entities and derives payloads. The appointment builder is
// the only builder allowed to mutate state: it backfills a missing
// reschedule token, and the backfill is safe to run twice.
type Builder struct {
	leads         crm.LeadRepository
	appointments  crm.AppointmentRepository
	quotes        crm.QuoteRepository
	rescheduleURL string
	logger        *zap.Logger
}

func NewBuilder(
	leads crm.LeadRepository,
	appointments crm.AppointmentRepository,
	quotes crm.QuoteRepository,
	rescheduleBaseURL string,
	logger *zap.Logger,
) *Builder {
	return &Builder{
		leads:         leads,
		appointments:  appointments,
		quotes:        quotes,
		rescheduleURL: rescheduleBaseURL,
		logger:        logger.Named("notify"),
	}
}

// ForAppointment builds the payload for an appointment notification,
// generating and persisting a reschedule token when the appointment lacks
// one.
func (b *Builder) ForAppointment(ctx context.Context, appointmentID int64, ov Overrides) (*Payload, error) {
	appt, err := b.appointments.FindByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt == nil {
		return nil, crm.ErrAppointmentNotFound
	}

	lead, err := b.leads.FindByID(ctx, appt.LeadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return nil, crm.ErrLeadNotFound
	}

	if appt.RescheduleToken == "" {
		token := uuid.NewString()
		// SetRescheduleToken only writes when the column is still empty, so
		// two concurrent backfills converge on one token.
		if err := b.appointments.SetRescheduleToken(ctx, appt.ID, token); err != nil {
			return nil, fmt.Errorf("backfill reschedule token: %w", err)
		}
		fresh, err := b.appointments.FindByID(ctx, appt.ID)
		if err != nil {
			return nil, fmt.Errorf("reload appointment: %w", err)
		}
		if fresh != nil {
			appt = fresh
		}
	}

	p := &Payload{
		LeadID:       lead.ID,
		CustomerName: pick(ov.CustomerName, lead.DisplayName()),
		Email:        lead.Email,
		Phone:        lead.Phone,
		Address:      pick(appt.PropertyAddress, lead.Address),
		Service:      pick(ov.Service, firstOr(appt.Services, "estimate")),
		StartAt:      appt.StartAt,
		Notes:        pick(ov.Notes, appt.Notes),
	}
	if appt.RescheduleToken != "" {
		p.RescheduleURL = b.rescheduleURL + "/" + appt.RescheduleToken
	}
	return p, nil
}

// ForQuote builds the payload for a quote notification.
func (b *Builder) ForQuote(ctx context.Context, quoteID int64, ov Overrides) (*Payload, error) {
	quote, err := b.quotes.FindByID(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if quote == nil {
		return nil, crm.ErrQuoteNotFound
	}

	lead, err := b.leads.FindByID(ctx, quote.LeadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return nil, crm.ErrLeadNotFound
	}

	return &Payload{
		LeadID:       lead.ID,
		CustomerName: pick(ov.CustomerName, lead.DisplayName()),
		Email:        lead.Email,
		Phone:        lead.Phone,
		Address:      lead.Address,
		Service:      pick(ov.Service, firstOr(quote.Services, "estimate")),
		QuoteTotal:   quote.TotalCents,
		Notes:        pick(ov.Notes, quote.Description),
	}, nil
}

// ForLead builds the payload for notifications that only need the contact.
func (b *Builder) ForLead(ctx context.Context, leadID int64, ov Overrides) (*Payload, error) {
	lead, err := b.leads.FindByID(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return nil, crm.ErrLeadNotFound
	}

	return &Payload{
		LeadID:       lead.ID,
		CustomerName: pick(ov.CustomerName, lead.DisplayName()),
		Email:        lead.Email,
		Phone:        lead.Phone,
		Address:      lead.Address,
		Notes:        ov.Notes,
	}, nil
}

func pick(override, stored string) string {
	if override != "" {
		return override
	}
	return stored
}

func firstOr(values []string, def string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return def
}
