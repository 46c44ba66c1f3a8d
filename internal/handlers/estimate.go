package handlers

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/notify"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
)

// handleEstimateRequested runs the booking orchestration: the lead leaves
// the drip sequence, moves to the qualified stage, gets a calendar entry,
// a confirmation message, and reminder events against the start time.
func (s *Set) handleEstimateRequested(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.EstimateRequestedPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}

	appt, err := s.Appointments.FindByID(ctx, p.AppointmentID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load appointment: %w", err)
	}
	if appt == nil {
		return outbox.ProcessedWithError("appointment not found"), nil
	}

	if err := s.Followups.Cancel(ctx, appt.LeadID); err != nil {
		return outbox.Outcome{}, fmt.Errorf("cancel followups: %w", err)
	}
	if err := s.Stages.ApplyAppointmentStatus(ctx, appt.LeadID, appt.Status); err != nil {
		return outbox.Outcome{}, fmt.Errorf("apply stage: %w", err)
	}

	ov := notify.Overrides{Notes: p.Notes}
	if len(p.Services) > 0 {
		ov.Service = p.Services[0]
	}
	payload, err := s.Builder.ForAppointment(ctx, appt.ID, ov)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("build confirmation payload: %w", err)
	}

	// Calendar sync is best effort. A provider outage must not block the
	// customer-facing confirmation.
	s.syncCalendar(ctx, appt.ID, payload)

	if err := s.sendConfirmation(ctx, payload); err != nil {
		return outbox.Outcome{}, err
	}

	if err := s.Reminders.Schedule(ctx, appt.ID); err != nil {
		return outbox.Outcome{}, fmt.Errorf("schedule reminders: %w", err)
	}
	return outbox.Processed(), nil
}

func (s *Set) syncCalendar(ctx context.Context, appointmentID int64, payload *notify.Payload) {
	appt, err := s.Appointments.FindByID(ctx, appointmentID)
	if err != nil || appt == nil {
		s.Logger.Warn("calendar sync skipped", zap.Int64("appointment_id", appointmentID), zap.Error(err))
		return
	}

	ev := channel.CalendarEvent{
		ExternalID:  appt.CalendarEventID,
		Title:       fmt.Sprintf("Estimate: %s (%s)", payload.Service, payload.CustomerName),
		Description: buildCalendarDescription(payload),
		StartAt:     appt.StartAt,
		EndAt:       appt.EndAt,
	}
	if payload.Email != "" {
		ev.Attendees = []string{payload.Email}
	}

	if appt.CalendarEventID != "" {
		if err := s.Calendar.UpdateEvent(ctx, ev); err != nil {
			s.Logger.Warn("calendar update failed",
				zap.Int64("appointment_id", appt.ID), zap.Error(err))
		}
		return
	}

	externalID, err := s.Calendar.CreateEvent(ctx, ev)
	if err != nil {
		s.Logger.Warn("calendar create failed",
			zap.Int64("appointment_id", appt.ID), zap.Error(err))
		return
	}
	appt.CalendarEventID = externalID
	if err := s.Appointments.Save(ctx, appt); err != nil {
		s.Logger.Warn("persist calendar event id failed",
			zap.Int64("appointment_id", appt.ID), zap.Error(err))
	}
}

func buildCalendarDescription(payload *notify.Payload) string {
	var b strings.Builder
	if payload.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", payload.Address)
	}
	if payload.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", payload.Phone)
	}
	if payload.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", payload.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// sendConfirmation queues a booking confirmation, preferring SMS over
// email. Confirmations are transactional and exempt from quiet hours.
func (s *Set) sendConfirmation(ctx context.Context, payload *notify.Payload) error {
	body, err := s.Policies.Templates.Render("appointment.confirmation", map[string]string{
		"name":           payload.CustomerName,
		"service":        payload.Service,
		"start":          payload.StartAt.Format("Monday, Jan 2 at 3:04 PM"),
		"reschedule_url": payload.RescheduleURL,
	})
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}

	ch, to := channel.SMS, payload.Phone
	if to == "" {
		ch, to = channel.Email, payload.Email
	}
	if to == "" {
		s.Logger.Warn("confirmation skipped, no contact address",
			zap.Int64("lead_id", payload.LeadID))
		return nil
	}

	meta := map[string]string{
		conversation.MetaAutomated:   "true",
		conversation.MetaQuietExempt: "true",
		conversation.MetaTemplate:    "appointment.confirmation",
	}
	if _, err := s.Outbound.Queue(ctx, payload.LeadID, string(ch), to, body, meta); err != nil {
		return fmt.Errorf("queue confirmation: %w", err)
	}
	return nil
}
